package quiz

import (
	"encoding/json"
	"fmt"

	"github.com/derekforsure/APIQ-interactive-quiz-sub000/pkg/ws"
)

// Payload validation bounds (milliseconds).
const (
	minReadingTime = 3000
	maxReadingTime = 30000
	minQuizTime    = 5000
	maxQuizTime    = 60000
)

// Command is the closed set of validated inbound commands. Every variant
// carries its own strongly typed payload; unknown message types never
// reach the engine.
type Command interface {
	CommandType() string
	Session() string
}

type RegisterCmd struct {
	Role      string
	SessionID string
	StudentID string
}

type SetScoringModeCmd struct {
	SessionID string
	Mode      ScoringMode
}

// StartQuizCmd carries the per-session timer windows in milliseconds;
// zero means "use the configured default".
type StartQuizCmd struct {
	SessionID   string
	ReadingTime int
	QuizTime    int
}

type ResetStateCmd struct {
	SessionID string
}

type NextQuestionCmd struct {
	SessionID  string
	QuestionID int
}

type BuzzCmd struct {
	SessionID string
	StudentID string
}

type JudgeAnswerCmd struct {
	SessionID  string
	Correct    bool
	QuestionID int
}

type EndQuizCmd struct {
	SessionID string
}

func (c RegisterCmd) CommandType() string       { return ws.CmdRegister }
func (c SetScoringModeCmd) CommandType() string { return ws.CmdSetScoringMode }
func (c StartQuizCmd) CommandType() string      { return ws.CmdStartQuiz }
func (c ResetStateCmd) CommandType() string     { return ws.CmdResetState }
func (c NextQuestionCmd) CommandType() string   { return ws.CmdNextQuestion }
func (c BuzzCmd) CommandType() string           { return ws.CmdBuzz }
func (c JudgeAnswerCmd) CommandType() string    { return ws.CmdJudgeAnswer }
func (c EndQuizCmd) CommandType() string        { return ws.CmdEndQuiz }

func (c RegisterCmd) Session() string       { return c.SessionID }
func (c SetScoringModeCmd) Session() string { return c.SessionID }
func (c StartQuizCmd) Session() string      { return c.SessionID }
func (c ResetStateCmd) Session() string     { return c.SessionID }
func (c NextQuestionCmd) Session() string   { return c.SessionID }
func (c BuzzCmd) Session() string           { return c.SessionID }
func (c JudgeAnswerCmd) Session() string    { return c.SessionID }
func (c EndQuizCmd) Session() string        { return c.SessionID }

// ValidationError describes why an inbound message was rejected. It is
// reported back to the sender as an ERROR event and never crashes the
// connection.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Fields)
}

func invalid(message string, fields ...string) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

// ParseCommand validates a raw inbound frame against the protocol and
// returns the typed command. Both unparsable JSON and schema violations
// yield a ValidationError; the engine is never invoked for either.
func ParseCommand(raw []byte) (Command, *ValidationError) {
	var msg ws.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, invalid("malformed message", "message must be a JSON object with type and payload")
	}
	if msg.Type == "" {
		return nil, invalid("malformed message", "type is required")
	}

	switch msg.Type {
	case ws.CmdRegister:
		return parseRegister(msg.Payload)
	case ws.CmdSetScoringMode:
		return parseSetScoringMode(msg.Payload)
	case ws.CmdStartQuiz:
		return parseStartQuiz(msg.Payload)
	case ws.CmdResetState:
		var p ws.ResetStatePayload
		if verr := unmarshalPayload(msg.Payload, &p); verr != nil {
			return nil, verr
		}
		if p.SessionID == "" {
			return nil, invalid("invalid RESET_STATE payload", "sessionId is required")
		}
		return ResetStateCmd{SessionID: p.SessionID}, nil
	case ws.CmdNextQuestion:
		return parseNextQuestion(msg.Payload)
	case ws.CmdBuzz:
		return parseBuzz(msg.Payload)
	case ws.CmdJudgeAnswer:
		return parseJudgeAnswer(msg.Payload)
	case ws.CmdEndQuiz:
		var p ws.EndQuizPayload
		if verr := unmarshalPayload(msg.Payload, &p); verr != nil {
			return nil, verr
		}
		if p.SessionID == "" {
			return nil, invalid("invalid END_QUIZ payload", "sessionId is required")
		}
		return EndQuizCmd{SessionID: p.SessionID}, nil
	default:
		return nil, invalid("unknown message type", fmt.Sprintf("type %q is not supported", msg.Type))
	}
}

func unmarshalPayload(raw json.RawMessage, dst any) *ValidationError {
	if len(raw) == 0 {
		return invalid("malformed message", "payload is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid("malformed payload", err.Error())
	}
	return nil
}

func parseRegister(raw json.RawMessage) (Command, *ValidationError) {
	var p ws.RegisterPayload
	if verr := unmarshalPayload(raw, &p); verr != nil {
		return nil, verr
	}

	var fields []string
	if p.SessionID == "" {
		fields = append(fields, "sessionId is required")
	}
	switch p.Role {
	case ws.RoleAdmin, ws.RoleSpectator:
	case ws.RoleStudent:
		if p.StudentID == "" {
			fields = append(fields, "studentId is required for students")
		}
	default:
		fields = append(fields, "role must be admin, student or spectator")
	}
	if len(fields) > 0 {
		return nil, invalid("invalid REGISTER payload", fields...)
	}
	return RegisterCmd{Role: p.Role, SessionID: p.SessionID, StudentID: p.StudentID}, nil
}

func parseSetScoringMode(raw json.RawMessage) (Command, *ValidationError) {
	var p ws.SetScoringModePayload
	if verr := unmarshalPayload(raw, &p); verr != nil {
		return nil, verr
	}

	var fields []string
	if p.SessionID == "" {
		fields = append(fields, "sessionId is required")
	}
	mode := ScoringMode(p.Mode)
	if mode != ScoringIndividual && mode != ScoringDepartment {
		fields = append(fields, "mode must be individual or department")
	}
	if len(fields) > 0 {
		return nil, invalid("invalid SET_SCORING_MODE payload", fields...)
	}
	return SetScoringModeCmd{SessionID: p.SessionID, Mode: mode}, nil
}

func parseStartQuiz(raw json.RawMessage) (Command, *ValidationError) {
	var p ws.StartQuizPayload
	if verr := unmarshalPayload(raw, &p); verr != nil {
		return nil, verr
	}

	var fields []string
	if p.SessionID == "" {
		fields = append(fields, "sessionId is required")
	}
	cmd := StartQuizCmd{SessionID: p.SessionID}
	if p.ReadingTime != nil {
		if *p.ReadingTime < minReadingTime || *p.ReadingTime > maxReadingTime {
			fields = append(fields, fmt.Sprintf("readingTime must be between %d and %d", minReadingTime, maxReadingTime))
		}
		cmd.ReadingTime = *p.ReadingTime
	}
	if p.QuizTime != nil {
		if *p.QuizTime < minQuizTime || *p.QuizTime > maxQuizTime {
			fields = append(fields, fmt.Sprintf("quizTime must be between %d and %d", minQuizTime, maxQuizTime))
		}
		cmd.QuizTime = *p.QuizTime
	}
	if len(fields) > 0 {
		return nil, invalid("invalid START_QUIZ payload", fields...)
	}
	return cmd, nil
}

func parseNextQuestion(raw json.RawMessage) (Command, *ValidationError) {
	var p ws.NextQuestionPayload
	if verr := unmarshalPayload(raw, &p); verr != nil {
		return nil, verr
	}

	var fields []string
	if p.SessionID == "" {
		fields = append(fields, "sessionId is required")
	}
	if p.QuestionID <= 0 {
		fields = append(fields, "questionId must be a positive integer")
	}
	if len(fields) > 0 {
		return nil, invalid("invalid NEXT_QUESTION payload", fields...)
	}
	return NextQuestionCmd{SessionID: p.SessionID, QuestionID: p.QuestionID}, nil
}

func parseBuzz(raw json.RawMessage) (Command, *ValidationError) {
	var p ws.BuzzPayload
	if verr := unmarshalPayload(raw, &p); verr != nil {
		return nil, verr
	}

	var fields []string
	if p.SessionID == "" {
		fields = append(fields, "sessionId is required")
	}
	if p.StudentID == "" {
		fields = append(fields, "studentId is required")
	}
	if len(fields) > 0 {
		return nil, invalid("invalid BUZZ payload", fields...)
	}
	return BuzzCmd{SessionID: p.SessionID, StudentID: p.StudentID}, nil
}

func parseJudgeAnswer(raw json.RawMessage) (Command, *ValidationError) {
	var p ws.JudgeAnswerPayload
	if verr := unmarshalPayload(raw, &p); verr != nil {
		return nil, verr
	}

	var fields []string
	if p.SessionID == "" {
		fields = append(fields, "sessionId is required")
	}
	if p.Correct == nil {
		fields = append(fields, "correct is required")
	}
	if p.QuestionID <= 0 {
		fields = append(fields, "questionId must be a positive integer")
	}
	if len(fields) > 0 {
		return nil, invalid("invalid JUDGE_ANSWER payload", fields...)
	}
	return JudgeAnswerCmd{SessionID: p.SessionID, Correct: *p.Correct, QuestionID: p.QuestionID}, nil
}
