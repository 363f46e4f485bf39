package ws

import "encoding/json"

// Inbound command types. This set is closed: anything else is rejected by
// the protocol layer before it reaches the engine.
const (
	CmdRegister       = "REGISTER"
	CmdSetScoringMode = "SET_SCORING_MODE"
	CmdStartQuiz      = "START_QUIZ"
	CmdResetState     = "RESET_STATE"
	CmdNextQuestion   = "NEXT_QUESTION"
	CmdBuzz           = "BUZZ"
	CmdJudgeAnswer    = "JUDGE_ANSWER"
	CmdEndQuiz        = "END_QUIZ"
)

// Outbound event types.
const (
	EventClientID        = "CLIENT_ID"
	EventQuizState       = "QUIZ_STATE"
	EventStartQuiz       = "START_QUIZ"
	EventCountdownStart  = "COUNTDOWN_START"
	EventQuizStarted     = "QUIZ_STARTED"
	EventNewQuestion     = "NEW_QUESTION"
	EventBuzzerOpen      = "BUZZER_OPEN"
	EventBuzzerActivated = "BUZZER_ACTIVATED"
	EventScoresUpdated   = "SCORES_UPDATED"
	EventTimerUpdate     = "TIMER_UPDATE"
	EventQuizEnded       = "QUIZ_ENDED"
	EventError           = "ERROR"
	EventServerShutdown  = "SERVER_SHUTDOWN"
)

// Connection roles within a session.
const (
	RoleAdmin     = "admin"
	RoleStudent   = "student"
	RoleSpectator = "spectator"
)

// Message is the wire envelope for both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage marshals payload into an envelope. Marshal errors are
// impossible for the engine's own payload types, so they are swallowed.
func NewMessage(msgType string, payload any) Message {
	msg := Message{Type: msgType}
	msg.Payload, _ = json.Marshal(payload)
	return msg
}

// Client payloads (incoming)

type RegisterPayload struct {
	Role      string `json:"role"`
	SessionID string `json:"sessionId"`
	StudentID string `json:"studentId,omitempty"`
}

type SetScoringModePayload struct {
	SessionID string `json:"sessionId"`
	Mode      string `json:"mode"`
}

type StartQuizPayload struct {
	SessionID   string `json:"sessionId"`
	ReadingTime *int   `json:"readingTime,omitempty"`
	QuizTime    *int   `json:"quizTime,omitempty"`
}

type ResetStatePayload struct {
	SessionID string `json:"sessionId"`
}

type NextQuestionPayload struct {
	SessionID  string `json:"sessionId"`
	QuestionID int    `json:"questionId"`
}

type BuzzPayload struct {
	SessionID string `json:"sessionId"`
	StudentID string `json:"studentId"`
}

type JudgeAnswerPayload struct {
	SessionID  string `json:"sessionId"`
	Correct    *bool  `json:"correct"`
	QuestionID int    `json:"questionId"`
}

type EndQuizPayload struct {
	SessionID string `json:"sessionId"`
}

// Server payloads (outgoing)

type ClientIDPayload struct {
	ClientID string `json:"clientId"`
}

// CountdownStartPayload carries the server clock so clients can render a
// synchronized countdown regardless of delivery latency.
type CountdownStartPayload struct {
	ServerTime int64 `json:"serverTime"`
	Duration   int   `json:"duration"`
}

type ErrorPayload struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

type ShutdownPayload struct {
	Message string `json:"message"`
}
