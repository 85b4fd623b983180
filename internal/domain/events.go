package domain

import "time"

// Outbound event names.
const (
	EventSessionCreated     = "session_created"
	EventSessionUpdated     = "session_updated"
	EventQuestionStarted    = "question_started"
	EventParticipantJoined  = "participant_joined"
	EventParticipantLeft    = "participant_left"
	EventAnswerReceived     = "answer_received"
	EventAnswerResult       = "answer_result"
	EventLeaderboardUpdated = "leaderboard_updated"
	EventQuestionResults    = "question_results"
	EventSessionResults     = "session_results"
	EventError              = "error"
)

// Event is one outbound message. Payload is serialized as JSON by the transport.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// SessionGroup names the broadcast group of all session members.
func SessionGroup(sessionID string) string {
	return "session:" + sessionID
}

// HostGroup names the host-only broadcast group of a session.
func HostGroup(sessionID string) string {
	return "host:" + sessionID
}

// SessionSnapshot is the session_updated payload.
type SessionSnapshot struct {
	SessionID            string          `json:"sessionId"`
	Code                 string          `json:"code"`
	Status               SessionStatus   `json:"status"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"`
	ShowLeaderboard      bool            `json:"showLeaderboard"`
	Quiz                 *QuizDescriptor `json:"quiz,omitempty"`
	ParticipantID        string          `json:"participantId,omitempty"`
	Nickname             string          `json:"nickname,omitempty"`
}

// ParticipantPresence is the participant_joined / participant_left payload.
type ParticipantPresence struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	Disconnected  bool   `json:"disconnected,omitempty"`
}

// AnswerReceived is sent to the host group only.
type AnswerReceived struct {
	ParticipantID string  `json:"participantId"`
	QuestionID    string  `json:"questionId"`
	IsCorrect     bool    `json:"isCorrect"`
	ResponseTime  float64 `json:"responseTime"`
	Skipped       bool    `json:"skipped,omitempty"`
}

// AnswerResult summarizes the outcome of a submission for the submitter.
type AnswerResult struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	Awarded    int    `json:"awarded"`
	TotalScore int    `json:"totalScore"`
}

// ErrorPayload is the private error event payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionEvent is a lifecycle notification for downstream consumers.
type SessionEvent struct {
	Name        string        `json:"name"`
	SessionID   string        `json:"sessionId"`
	QuizID      string        `json:"quizId"`
	HostID      string        `json:"hostId"`
	Status      SessionStatus `json:"status"`
	Leaderboard *Leaderboard  `json:"leaderboard,omitempty"`
	OccurredAt  time.Time     `json:"occurredAt"`
}

const (
	SessionEventStarted   = "session.started"
	SessionEventCompleted = "session.completed"
)
