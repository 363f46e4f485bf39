package quiz

// ScoringMode selects whether points accrue to individual students or to
// their departments. Switching modes wipes the live score map.
type ScoringMode string

const (
	ScoringIndividual ScoringMode = "individual"
	ScoringDepartment ScoringMode = "department"
)

// SessionState is the durable record of one live quiz session. It is the
// single source of truth: any server process can load it and continue
// driving the session. All times are milliseconds.
type SessionState struct {
	IsQuizStarted        bool           `json:"isQuizStarted"`
	IsQuizEnded          bool           `json:"isQuizEnded"`
	ScoringMode          ScoringMode    `json:"scoringMode"`
	IsBuzzerActive       bool           `json:"isBuzzerActive"`
	ActiveStudent        string         `json:"activeStudent"`
	CurrentQuestionIndex int            `json:"currentQuestionIndex"`
	Scores               map[string]int `json:"scores"`
	RemainingTime        int            `json:"remainingTime"`
	IneligibleStudents   []string       `json:"ineligibleStudents"`
	IsReadingPeriod      bool           `json:"isReadingPeriod"`
	ShowAnswer           bool           `json:"showAnswer"`
	ReadingTime          int            `json:"readingTime"`
	QuizTime             int            `json:"quizTime"`

	// Version guards optimistic persists; bumped by the store on every save.
	Version int64 `json:"version"`
}

// NewSessionState returns the lazily-created default state for a session
// that has never been driven.
func NewSessionState(readingTime, quizTime int) *SessionState {
	return &SessionState{
		ScoringMode:        ScoringIndividual,
		Scores:             map[string]int{},
		IneligibleStudents: []string{},
		ReadingTime:        readingTime,
		QuizTime:           quizTime,
	}
}

// IsIneligible reports whether studentID is barred from buzzing on the
// current question.
func (s *SessionState) IsIneligible(studentID string) bool {
	for _, id := range s.IneligibleStudents {
		if id == studentID {
			return true
		}
	}
	return false
}

// MarkIneligible bars a student from buzzing for the rest of the current
// question. A student appears at most once.
func (s *SessionState) MarkIneligible(studentID string) {
	if studentID == "" || s.IsIneligible(studentID) {
		return
	}
	s.IneligibleStudents = append(s.IneligibleStudents, studentID)
}
