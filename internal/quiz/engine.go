package quiz

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/metrics"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/pkg/ws"
)

// Answer speed thresholds for scoring, in milliseconds of elapsed buzz
// window. Computed against the session's configured quizTime.
const (
	fastAnswerMs   = 3333
	mediumAnswerMs = 6666
)

// Broadcaster fans an event out to every connection of a session.
type Broadcaster interface {
	Broadcast(sessionID string, msg ws.Message)
}

// Ledger persists durable score rows. Implementations retry transient
// failures internally; the engine only logs exhaustion and moves on.
type Ledger interface {
	RecordQuestionScore(ctx context.Context, sessionID string, questionID int, subject string, points int) error
	// FinalizeSession marks the session inactive and recomputes authoritative
	// totals from the per-question rows, persisting them as session scores.
	FinalizeSession(ctx context.Context, sessionID string) (map[string]int, error)
}

// Roster resolves a student's department for department-mode scoring.
// Returns "" when the student has no department.
type Roster interface {
	DepartmentOf(ctx context.Context, studentID string) (string, error)
}

// Question is one entry of a session's ordered question list.
type Question struct {
	ID            int
	Position      int
	CorrectAnswer string
}

// QuestionSource fetches the ordered question list for a session once.
type QuestionSource interface {
	ListForSession(ctx context.Context, sessionID string) ([]Question, error)
}

// EngineOptions tunes the engine's fixed timings.
type EngineOptions struct {
	// CountdownDuration is both the advertised COUNTDOWN_START duration and
	// the actual delay before the quiz goes live.
	CountdownDuration time.Duration
}

// Engine is the quiz state machine and the sole mutator of SessionState.
// Every command runs load -> compute -> persist -> broadcast under a
// per-session mutex, so at most one BUZZ can win within a process; the
// store's versioned persist extends that guarantee across processes.
type Engine struct {
	store     *SessionStore
	timers    *TimerScheduler
	hub       Broadcaster
	ledger    Ledger
	roster    Roster
	questions QuestionSource
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	countdown time.Duration

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	delayGen map[string]uint64 // invalidates pending delayed transitions

	questionLists sync.Map // sessionID -> []Question
}

// NewEngine wires the state machine with its collaborators.
func NewEngine(
	store *SessionStore,
	timers *TimerScheduler,
	hub Broadcaster,
	ledger Ledger,
	roster Roster,
	questions QuestionSource,
	opts EngineOptions,
	mets *metrics.Metrics,
	logger zerolog.Logger,
) *Engine {
	countdown := opts.CountdownDuration
	if countdown <= 0 {
		countdown = 4 * time.Second
	}
	return &Engine{
		store:     store,
		timers:    timers,
		hub:       hub,
		ledger:    ledger,
		roster:    roster,
		questions: questions,
		logger:    logger,
		metrics:   mets,
		countdown: countdown,
		locks:     make(map[string]*sync.Mutex),
		delayGen:  make(map[string]uint64),
	}
}

// nextDelayGen invalidates any pending delayed transition for the session
// and returns the generation a newly scheduled one must present. Delayed
// callbacks (countdown completion, reading-period end) carry the
// generation they were scheduled under and no-op once superseded, so a
// stale AfterFunc from a prior question or a pre-reset countdown can
// never mutate fresher state.
func (e *Engine) nextDelayGen(sessionID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delayGen[sessionID]++
	return e.delayGen[sessionID]
}

func (e *Engine) delayGenCurrent(sessionID string, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delayGen[sessionID] == gen
}

// sessionLock returns the serialization mutex for a session, creating it
// on first use. Locks are never removed; sessions are few and small.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	return lock
}

// Snapshot loads the current state of a session without mutating it.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (*SessionState, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return e.store.Load(ctx, sessionID)
}

// Apply runs one validated command against the session's state. Commands
// that are well-formed but not meaningful in the current phase are silent
// no-ops per protocol.
func (e *Engine) Apply(ctx context.Context, cmd Command) {
	lock := e.sessionLock(cmd.Session())
	lock.Lock()
	defer lock.Unlock()

	switch c := cmd.(type) {
	case SetScoringModeCmd:
		e.setScoringMode(ctx, c)
	case StartQuizCmd:
		e.startQuiz(ctx, c)
	case NextQuestionCmd:
		e.nextQuestion(ctx, c)
	case BuzzCmd:
		e.buzz(ctx, c)
	case JudgeAnswerCmd:
		e.judgeAnswer(ctx, c)
	case EndQuizCmd:
		e.endQuiz(ctx, c)
	case ResetStateCmd:
		e.resetState(ctx, c)
	case RegisterCmd:
		// Registration is handled at the transport layer; it never mutates
		// session state.
	}
}

func (e *Engine) setScoringMode(ctx context.Context, cmd SetScoringModeCmd) {
	state, err := e.store.Load(ctx, cmd.SessionID)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", cmd.SessionID).Msg("load state failed")
		return
	}

	state.ScoringMode = cmd.Mode
	state.Scores = map[string]int{}

	if !e.save(ctx, cmd.SessionID, state) {
		return
	}
	e.broadcast(cmd.SessionID, ws.EventQuizState, state)
}

func (e *Engine) startQuiz(ctx context.Context, cmd StartQuizCmd) {
	state, err := e.store.Load(ctx, cmd.SessionID)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", cmd.SessionID).Msg("load state failed")
		return
	}

	if cmd.ReadingTime > 0 {
		state.ReadingTime = cmd.ReadingTime
	}
	if cmd.QuizTime > 0 {
		state.QuizTime = cmd.QuizTime
	}

	state.IsQuizStarted = false
	state.IsQuizEnded = false
	state.IsBuzzerActive = false
	state.ShowAnswer = false
	state.IsReadingPeriod = false
	state.ActiveStudent = ""
	state.IneligibleStudents = []string{}
	state.CurrentQuestionIndex = 0
	state.Scores = map[string]int{}
	state.RemainingTime = state.QuizTime

	if !e.save(ctx, cmd.SessionID, state) {
		return
	}

	e.loadQuestionList(ctx, cmd.SessionID)

	e.broadcast(cmd.SessionID, ws.EventStartQuiz, state)
	e.broadcast(cmd.SessionID, ws.EventCountdownStart, ws.CountdownStartPayload{
		ServerTime: time.Now().UnixMilli(),
		Duration:   int(e.countdown.Milliseconds()),
	})

	gen := e.nextDelayGen(cmd.SessionID)
	time.AfterFunc(e.countdown, func() {
		e.completeStart(context.Background(), cmd.SessionID, gen)
	})
}

// completeStart flips the session live once the synchronized countdown has
// elapsed and opens the first buzzer window.
func (e *Engine) completeStart(ctx context.Context, sessionID string, gen uint64) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if !e.delayGenCurrent(sessionID, gen) {
		return
	}

	state, err := e.store.Load(ctx, sessionID)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", sessionID).Msg("load state failed")
		return
	}
	if state.IsQuizEnded {
		return
	}

	state.IsQuizStarted = true
	state.IsBuzzerActive = true
	state.RemainingTime = state.QuizTime

	if !e.save(ctx, sessionID, state) {
		return
	}
	e.timers.Arm(sessionID, e.tickFunc(sessionID))
	e.broadcast(sessionID, ws.EventQuizStarted, state)
}

func (e *Engine) nextQuestion(ctx context.Context, cmd NextQuestionCmd) {
	e.timers.Disarm(cmd.SessionID)

	state, err := e.store.Load(ctx, cmd.SessionID)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", cmd.SessionID).Msg("load state failed")
		return
	}

	state.CurrentQuestionIndex++
	state.ActiveStudent = ""
	state.IneligibleStudents = []string{}
	state.ShowAnswer = false
	state.IsBuzzerActive = false
	state.IsReadingPeriod = true
	state.RemainingTime = state.QuizTime

	if list, ok := e.questionLists.Load(cmd.SessionID); ok {
		if qs := list.([]Question); state.CurrentQuestionIndex >= len(qs) {
			e.logger.Warn().
				Str("session_id", cmd.SessionID).
				Int("index", state.CurrentQuestionIndex).
				Int("count", len(qs)).
				Msg("question index beyond session question list")
		}
	}

	if !e.save(ctx, cmd.SessionID, state) {
		return
	}
	e.broadcast(cmd.SessionID, ws.EventNewQuestion, state)

	gen := e.nextDelayGen(cmd.SessionID)
	reading := time.Duration(state.ReadingTime) * time.Millisecond
	time.AfterFunc(reading, func() {
		e.completeReading(context.Background(), cmd.SessionID, gen)
	})
}

// completeReading ends the reading period and opens the buzzer window.
func (e *Engine) completeReading(ctx context.Context, sessionID string, gen uint64) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if !e.delayGenCurrent(sessionID, gen) {
		return
	}

	state, err := e.store.Load(ctx, sessionID)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", sessionID).Msg("load state failed")
		return
	}
	if !state.IsReadingPeriod || state.IsQuizEnded {
		return
	}

	state.IsReadingPeriod = false
	state.IsBuzzerActive = true

	if !e.save(ctx, sessionID, state) {
		return
	}
	e.timers.Arm(sessionID, e.tickFunc(sessionID))
	e.broadcast(sessionID, ws.EventBuzzerOpen, state)
}

// buzz is the single arbitration point: the first valid BUZZ processed
// under the session lock wins the floor; any later one sees the buzzer
// inactive and is dropped.
func (e *Engine) buzz(ctx context.Context, cmd BuzzCmd) {
	state, err := e.store.Load(ctx, cmd.SessionID)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", cmd.SessionID).Msg("load state failed")
		return
	}

	if !state.IsBuzzerActive || state.IsIneligible(cmd.StudentID) {
		return
	}

	e.timers.Disarm(cmd.SessionID)
	state.ActiveStudent = cmd.StudentID
	state.IsBuzzerActive = false

	if !e.save(ctx, cmd.SessionID, state) {
		return
	}
	e.broadcast(cmd.SessionID, ws.EventBuzzerActivated, state)
}

func (e *Engine) judgeAnswer(ctx context.Context, cmd JudgeAnswerCmd) {
	state, err := e.store.Load(ctx, cmd.SessionID)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", cmd.SessionID).Msg("load state failed")
		return
	}
	if state.ActiveStudent == "" {
		return
	}

	if cmd.Correct {
		e.judgeCorrect(ctx, cmd, state)
		return
	}

	// Wrong answer: bar the student for this question and reopen the buzzer,
	// continuing the countdown from where it stopped.
	state.MarkIneligible(state.ActiveStudent)
	state.ActiveStudent = ""
	state.IsBuzzerActive = true

	if !e.save(ctx, cmd.SessionID, state) {
		return
	}
	e.timers.Arm(cmd.SessionID, e.tickFunc(cmd.SessionID))
	e.broadcast(cmd.SessionID, ws.EventBuzzerOpen, state)
}

func (e *Engine) judgeCorrect(ctx context.Context, cmd JudgeAnswerCmd, state *SessionState) {
	e.timers.Disarm(cmd.SessionID)

	timeTaken := state.QuizTime - state.RemainingTime
	points := pointsForAnswer(timeTaken)

	subject := state.ActiveStudent
	skipScore := false
	if state.ScoringMode == ScoringDepartment {
		dept, err := e.roster.DepartmentOf(ctx, state.ActiveStudent)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("session_id", cmd.SessionID).
				Str("student_id", state.ActiveStudent).
				Msg("department lookup failed, skipping score")
			skipScore = true
		} else if dept == "" {
			e.logger.Warn().
				Str("session_id", cmd.SessionID).
				Str("student_id", state.ActiveStudent).
				Msg("student has no department, skipping score")
			skipScore = true
		} else {
			subject = dept
		}
	}

	if !skipScore {
		if err := e.ledger.RecordQuestionScore(ctx, cmd.SessionID, cmd.QuestionID, subject, points); err != nil {
			e.logger.Error().Err(err).
				Str("session_id", cmd.SessionID).
				Str("subject", subject).
				Msg("ledger write failed, live score still advances")
		}
		state.Scores[subject] += points
	}

	state.ActiveStudent = ""
	state.ShowAnswer = true
	state.IsBuzzerActive = false

	if !e.save(ctx, cmd.SessionID, state) {
		return
	}
	// No re-arm: the admin advances to the next question manually.
	e.broadcast(cmd.SessionID, ws.EventScoresUpdated, state)
}

type quizEndedPayload struct {
	*SessionState
	FinalScores map[string]int `json:"finalScores"`
}

func (e *Engine) endQuiz(ctx context.Context, cmd EndQuizCmd) {
	e.timers.Disarm(cmd.SessionID)
	e.nextDelayGen(cmd.SessionID)

	// Authoritative totals come from the persisted per-question rows, not
	// from the live score map, which may have drifted under ledger failures.
	totals, err := e.ledger.FinalizeSession(ctx, cmd.SessionID)
	if err != nil {
		e.logger.Error().Err(err).
			Str("session_id", cmd.SessionID).
			Msg("ledger finalize failed, falling back to live scores")
	}

	state, lerr := e.store.Load(ctx, cmd.SessionID)
	if lerr != nil {
		e.logger.Error().Err(lerr).Str("session_id", cmd.SessionID).Msg("load state failed")
		return
	}

	state.IsQuizStarted = false
	state.IsQuizEnded = true
	state.IsBuzzerActive = false
	state.ActiveStudent = ""
	if err == nil && totals != nil {
		state.Scores = totals
	}

	if !e.save(ctx, cmd.SessionID, state) {
		return
	}
	e.broadcast(cmd.SessionID, ws.EventQuizEnded, quizEndedPayload{
		SessionState: state,
		FinalScores:  state.Scores,
	})
}

func (e *Engine) resetState(ctx context.Context, cmd ResetStateCmd) {
	e.timers.Disarm(cmd.SessionID)
	e.nextDelayGen(cmd.SessionID)

	state, err := e.store.Load(ctx, cmd.SessionID)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", cmd.SessionID).Msg("load state failed")
		return
	}

	fresh := NewSessionState(e.store.defaultReadingTime, e.store.defaultQuizTime)
	fresh.Version = state.Version

	if !e.save(ctx, cmd.SessionID, fresh) {
		return
	}
	e.broadcast(cmd.SessionID, ws.EventQuizState, fresh)
}

// tickFunc builds the per-tick callback: decrement, persist, broadcast,
// and close the buzzer when the window reaches zero.
func (e *Engine) tickFunc(sessionID string) func(ctx context.Context) bool {
	tickMs := int(e.timers.TickPeriod().Milliseconds())
	return func(ctx context.Context) bool {
		lock := e.sessionLock(sessionID)
		lock.Lock()
		defer lock.Unlock()

		state, err := e.store.Load(ctx, sessionID)
		if err != nil {
			e.logger.Error().Err(err).Str("session_id", sessionID).Msg("timer load failed")
			return false
		}
		if !state.IsQuizStarted || state.IsQuizEnded {
			return false
		}

		state.RemainingTime -= tickMs
		if state.RemainingTime <= 0 {
			state.RemainingTime = 0
			state.IsBuzzerActive = false
		}

		if !e.save(ctx, sessionID, state) {
			// Another writer moved the state under us; either it rearmed a
			// fresh loop or this one is about to be cancelled.
			return true
		}
		e.broadcast(sessionID, ws.EventTimerUpdate, state)
		return state.RemainingTime > 0
	}
}

// loadQuestionList fetches the session's ordered question list once and
// caches it for judging context.
func (e *Engine) loadQuestionList(ctx context.Context, sessionID string) {
	if _, ok := e.questionLists.Load(sessionID); ok {
		return
	}
	if e.questions == nil {
		return
	}
	list, err := e.questions.ListForSession(ctx, sessionID)
	if err != nil {
		e.logger.Warn().Err(err).Str("session_id", sessionID).Msg("question list fetch failed")
		return
	}
	e.questionLists.Store(sessionID, list)
	e.logger.Info().Str("session_id", sessionID).Int("questions", len(list)).Msg("question list loaded")
}

func (e *Engine) save(ctx context.Context, sessionID string, state *SessionState) bool {
	if err := e.store.Save(ctx, sessionID, state); err != nil {
		if err == ErrVersionConflict {
			e.logger.Warn().Str("session_id", sessionID).Msg("dropped state write after concurrent update")
		} else {
			e.logger.Error().Err(err).Str("session_id", sessionID).Msg("persist state failed")
		}
		return false
	}
	return true
}

func (e *Engine) broadcast(sessionID, event string, payload any) {
	if e.metrics != nil {
		e.metrics.BroadcastsTotal.Inc()
	}
	e.hub.Broadcast(sessionID, ws.NewMessage(event, payload))
}

func pointsForAnswer(timeTakenMs int) int {
	switch {
	case timeTakenMs <= fastAnswerMs:
		return 3
	case timeTakenMs <= mediumAnswerMs:
		return 2
	default:
		return 1
	}
}
