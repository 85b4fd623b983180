package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"
)

// Store persists sessions, participants and answers. Implementations must
// enforce the uniqueness rules themselves: session codes among unexpired
// sessions, nicknames among non-disconnected participants of a session, and
// one answer per (participant, question).
type Store interface {
	// CodeInUse reports whether an unexpired session holds the code.
	CodeInUse(ctx context.Context, code string) (bool, error)
	// CreateSession inserts a new session or fails with domain.ErrCodeInUse.
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	// GetSessionByCode resolves an unexpired code.
	GetSessionByCode(ctx context.Context, code string) (domain.Session, error)
	// UpdateSession writes session only if the stored version still equals
	// session.Version, returning the stored copy with the bumped version.
	// A lost race fails with domain.ErrSessionConflict.
	UpdateSession(ctx context.Context, session domain.Session) (domain.Session, error)
	// ListOpenSessions returns every session that is not completed.
	ListOpenSessions(ctx context.Context) ([]domain.Session, error)

	// JoinParticipant atomically finds-or-creates a participant by nickname.
	// A non-disconnected holder of the nickname fails with
	// domain.ErrNicknameTaken; a disconnected one is reclaimed (new
	// connection, status waiting, history kept) and reconnected is true.
	JoinParticipant(ctx context.Context, candidate domain.Participant) (p domain.Participant, reconnected bool, err error)
	GetParticipant(ctx context.Context, id string) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	// DisconnectParticipant marks the participant disconnected if it is still
	// owned by connID. applied is false when another connection owns it.
	DisconnectParticipant(ctx context.Context, id, connID string, clearConn bool) (p domain.Participant, applied bool, err error)
	// TransitionParticipants moves every participant of the session in status
	// from to status to. finishedAt is recorded when to is finished.
	TransitionParticipants(ctx context.Context, sessionID string, from, to domain.ParticipantStatus, at time.Time) error

	HasAnswer(ctx context.Context, participantID, questionID string) (bool, error)
	// RecordAnswer inserts the answer and folds it into the participant's
	// totals as one atomic step. Duplicates fail with domain.ErrAlreadyAnswered.
	RecordAnswer(ctx context.Context, answer domain.Answer) (domain.Participant, error)
	ListAnswers(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Broadcaster routes events to broadcast groups and single connections.
type Broadcaster interface {
	Publish(group string, ev domain.Event)
	Send(connID string, ev domain.Event)
	Join(group, connID string)
	Leave(group, connID string)
}

// EventPublisher forwards session lifecycle events to downstream consumers.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, ev domain.SessionEvent) error
}

type noopPublisher struct{}

func (noopPublisher) PublishSessionEvent(context.Context, domain.SessionEvent) error { return nil }
