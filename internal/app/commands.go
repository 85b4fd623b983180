package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
)

// Command is one inbound operation. Each variant maps to exactly one
// LiveService operation.
type Command interface {
	commandType() string
}

type (
	CreateSession  struct{ QuizID string `json:"quizId"` }
	AttachHost     struct{ SessionID string `json:"sessionId"` }
	StartSession   struct{ SessionID string `json:"sessionId"` }
	PauseSession   struct{ SessionID string `json:"sessionId"` }
	ResumeSession  struct{ SessionID string `json:"sessionId"` }
	EndSession     struct{ SessionID string `json:"sessionId"` }
	NextQuestion   struct{ SessionID string `json:"sessionId"` }
	PrevQuestion   struct{ SessionID string `json:"sessionId"` }
	GetLeaderboard struct{ SessionID string `json:"sessionId"` }
	LeaveSession   struct{}
	ToggleResults  struct {
		SessionID string `json:"sessionId"`
		Show      bool   `json:"show"`
	}
	JoinSession struct {
		Code     string `json:"code"`
		Nickname string `json:"nickname"`
	}
	SubmitAnswer struct {
		QuestionID   string          `json:"questionId"`
		Answer       json.RawMessage `json:"answer"`
		ResponseTime float64         `json:"responseTime"`
	}
	SkipQuestion struct {
		ResponseTime float64 `json:"responseTime"`
	}
)

func (CreateSession) commandType() string  { return "create_session" }
func (AttachHost) commandType() string     { return "attach_host" }
func (StartSession) commandType() string   { return "start_session" }
func (PauseSession) commandType() string   { return "pause_session" }
func (ResumeSession) commandType() string  { return "resume_session" }
func (EndSession) commandType() string     { return "end_session" }
func (NextQuestion) commandType() string   { return "next_question" }
func (PrevQuestion) commandType() string   { return "previous_question" }
func (ToggleResults) commandType() string  { return "toggle_results" }
func (JoinSession) commandType() string    { return "join_session" }
func (LeaveSession) commandType() string   { return "leave_session" }
func (SubmitAnswer) commandType() string   { return "submit_answer" }
func (SkipQuestion) commandType() string   { return "skip_question" }
func (GetLeaderboard) commandType() string { return "get_leaderboard" }

var commandDecoders = map[string]func(json.RawMessage) (Command, error){
	"create_session":    decodeAs[CreateSession],
	"attach_host":       decodeAs[AttachHost],
	"start_session":     decodeAs[StartSession],
	"pause_session":     decodeAs[PauseSession],
	"resume_session":    decodeAs[ResumeSession],
	"end_session":       decodeAs[EndSession],
	"next_question":     decodeAs[NextQuestion],
	"previous_question": decodeAs[PrevQuestion],
	"toggle_results":    decodeAs[ToggleResults],
	"join_session":      decodeAs[JoinSession],
	"leave_session":     decodeAs[LeaveSession],
	"submit_answer":     decodeAs[SubmitAnswer],
	"skip_question":     decodeAs[SkipQuestion],
	"get_leaderboard":   decodeAs[GetLeaderboard],
}

func decodeAs[T Command](payload json.RawMessage) (Command, error) {
	var cmd T
	if len(payload) == 0 || string(payload) == "null" {
		return cmd, nil
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	return cmd, nil
}

// DecodeCommand turns a typed wire message into its command variant.
func DecodeCommand(typ string, payload json.RawMessage) (Command, error) {
	decode, ok := commandDecoders[typ]
	if !ok {
		return nil, domain.ErrUnsupportedMessage
	}
	return decode(payload)
}

// Conn identifies the connection a command arrived on.
type Conn struct {
	ID       string
	Identity *domain.Identity
}

// Handle runs one command to completion. Every failure is reported privately
// to the originating connection; none is returned to the transport.
func (s *LiveService) Handle(ctx context.Context, conn Conn, cmd Command) {
	err := s.dispatch(ctx, conn, cmd)
	outcome := "ok"
	if err != nil {
		payload := s.errorPayload(conn, cmd, err)
		outcome = payload.Code
		s.broadcast.Send(conn.ID, domain.Event{Type: domain.EventError, Payload: payload})
	}
	metrics.ObserveCommand(cmd.commandType(), outcome)
}

// RejectMessage reports an inbound frame that could not be decoded.
func (s *LiveService) RejectMessage(connID string, err error) {
	code, known := ErrorCode(err)
	message := err.Error()
	if !known {
		message = "invalid message"
	}
	s.broadcast.Send(connID, domain.Event{Type: domain.EventError, Payload: domain.ErrorPayload{Code: code, Message: message}})
	metrics.ObserveCommand("unknown", code)
}

func (s *LiveService) dispatch(ctx context.Context, conn Conn, cmd Command) error {
	var err error
	switch c := cmd.(type) {
	case CreateSession:
		_, err = s.CreateSession(ctx, conn.ID, conn.Identity, c.QuizID)
	case AttachHost:
		_, err = s.AttachHost(ctx, conn.ID, conn.Identity, c.SessionID)
	case StartSession:
		_, err = s.Start(ctx, conn.Identity, c.SessionID)
	case PauseSession:
		_, err = s.Pause(ctx, conn.Identity, c.SessionID)
	case ResumeSession:
		_, err = s.Resume(ctx, conn.Identity, c.SessionID)
	case EndSession:
		_, err = s.End(ctx, conn.Identity, c.SessionID)
	case NextQuestion:
		_, err = s.AdvanceQuestion(ctx, conn.Identity, c.SessionID)
	case PrevQuestion:
		_, err = s.RetreatQuestion(ctx, conn.Identity, c.SessionID)
	case ToggleResults:
		_, err = s.ToggleResultsVisibility(ctx, conn.Identity, c.SessionID, c.Show)
	case JoinSession:
		_, err = s.Join(ctx, conn.ID, conn.Identity, c.Code, c.Nickname)
	case LeaveSession:
		_, err = s.Leave(ctx, conn.ID)
	case SubmitAnswer:
		_, err = s.SubmitAnswer(ctx, conn.ID, Submission{QuestionID: c.QuestionID, Answer: c.Answer, ResponseTime: c.ResponseTime})
	case SkipQuestion:
		_, err = s.SkipQuestion(ctx, conn.ID, c.ResponseTime)
	case GetLeaderboard:
		_, err = s.SendLeaderboard(ctx, conn.ID, conn.Identity, c.SessionID)
	default:
		err = domain.ErrUnsupportedMessage
	}
	return err
}

func (s *LiveService) errorPayload(conn Conn, cmd Command, err error) domain.ErrorPayload {
	code, known := ErrorCode(err)
	if known {
		return domain.ErrorPayload{Code: code, Message: err.Error()}
	}
	attrs := []any{
		slog.String("conn_id", conn.ID),
		slog.String("command", cmd.commandType()),
		slog.Any("error", err),
	}
	if b, ok := s.registry.Lookup(conn.ID); ok && b.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", b.SessionID), slog.String("participant_id", b.ParticipantID))
	}
	s.log.Error("command failed", attrs...)
	return domain.ErrorPayload{Code: code, Message: "session error"}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{domain.ErrUnauthorized, "UNAUTHORIZED"},
	{domain.ErrNotInSession, "NOT_IN_SESSION"},
	{domain.ErrSessionNotFound, "SESSION_NOT_FOUND"},
	{domain.ErrSessionNotJoinable, "SESSION_NOT_JOINABLE"},
	{domain.ErrSessionNotActive, "SESSION_NOT_ACTIVE"},
	{domain.ErrNicknameTaken, "NICKNAME_TAKEN"},
	{domain.ErrAlreadyAnswered, "ALREADY_ANSWERED"},
	{domain.ErrQuizNotFound, "QUIZ_NOT_FOUND"},
	{domain.ErrEmptyQuiz, "EMPTY_QUIZ"},
	{domain.ErrQuestionNotFound, "QUESTION_NOT_FOUND"},
	{domain.ErrParticipantNotFound, "PARTICIPANT_NOT_FOUND"},
	{domain.ErrNoMoreQuestions, "NO_MORE_QUESTIONS"},
	{domain.ErrAlreadyAtStart, "ALREADY_AT_START"},
	{domain.ErrInvalidTransition, "INVALID_TRANSITION"},
	{domain.ErrSessionConflict, "SESSION_CONFLICT"},
	{domain.ErrCodeGenerationExhausted, "CODE_GENERATION_EXHAUSTED"},
	{domain.ErrInvalidPayload, "INVALID_PAYLOAD"},
	{domain.ErrUnsupportedMessage, "UNSUPPORTED_MESSAGE"},
}

// ErrorCode maps a domain error to its stable wire code. Unclassified errors
// map to SESSION_ERROR with known set to false.
func ErrorCode(err error) (code string, known bool) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code, true
		}
	}
	return "SESSION_ERROR", false
}
