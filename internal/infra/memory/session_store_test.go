package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

func TestSessionStoreCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	session := domain.Session{ID: "s1", Code: "ABC123", Status: domain.SessionWaiting, CodeExpiresAt: time.Now().Add(time.Hour)}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := session
	first.Status = domain.SessionActive
	updated, err := store.UpdateSession(ctx, first)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("expected version 1, got %d", updated.Version)
	}

	stale := session
	stale.Status = domain.SessionCompleted
	if _, err := store.UpdateSession(ctx, stale); !errors.Is(err, domain.ErrSessionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := store.GetSession(ctx, "s1")
	if got.Status != domain.SessionActive {
		t.Fatalf("expected stale write to be rejected, status=%s", got.Status)
	}
}

func TestSessionStoreCodeExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewSessionStoreWithClock(func() time.Time { return now })

	_ = store.CreateSession(ctx, domain.Session{ID: "s1", Code: "ABC123", CodeExpiresAt: now.Add(time.Hour)})
	if err := store.CreateSession(ctx, domain.Session{ID: "s2", Code: "ABC123", CodeExpiresAt: now.Add(time.Hour)}); !errors.Is(err, domain.ErrCodeInUse) {
		t.Fatalf("expected code collision, got %v", err)
	}

	now = now.Add(2 * time.Hour)
	if inUse, _ := store.CodeInUse(ctx, "ABC123"); inUse {
		t.Fatalf("expected expired code to be free")
	}
	if _, err := store.GetSessionByCode(ctx, "ABC123"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected expired code to not resolve, got %v", err)
	}
}

func TestJoinParticipantNicknameRules(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	ana := domain.Participant{ID: "p1", SessionID: "s1", Nickname: "Ana", ConnID: "c1", Status: domain.ParticipantWaiting}
	if _, reconnected, err := store.JoinParticipant(ctx, ana); err != nil || reconnected {
		t.Fatalf("first join: reconnected=%v err=%v", reconnected, err)
	}

	dup := domain.Participant{ID: "p2", SessionID: "s1", Nickname: "Ana", ConnID: "c2", Status: domain.ParticipantWaiting}
	if _, _, err := store.JoinParticipant(ctx, dup); !errors.Is(err, domain.ErrNicknameTaken) {
		t.Fatalf("expected nickname taken, got %v", err)
	}

	other := domain.Participant{ID: "p3", SessionID: "s2", Nickname: "Ana", ConnID: "c3", Status: domain.ParticipantWaiting}
	if _, _, err := store.JoinParticipant(ctx, other); err != nil {
		t.Fatalf("nickname should be free in another session: %v", err)
	}

	if _, applied, _ := store.DisconnectParticipant(ctx, "p1", "c1", true); !applied {
		t.Fatalf("expected disconnect to apply")
	}
	p, reconnected, err := store.JoinParticipant(ctx, dup)
	if err != nil || !reconnected {
		t.Fatalf("expected reclaim, reconnected=%v err=%v", reconnected, err)
	}
	if p.ID != "p1" || p.ConnID != "c2" || p.Status != domain.ParticipantWaiting {
		t.Fatalf("unexpected reclaimed participant %+v", p)
	}
}

func TestDisconnectIgnoresForeignConnection(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	_, _, _ = store.JoinParticipant(ctx, domain.Participant{ID: "p1", SessionID: "s1", Nickname: "Ana", ConnID: "c2", Status: domain.ParticipantWaiting})

	p, applied, err := store.DisconnectParticipant(ctx, "p1", "c1", true)
	if err != nil || applied {
		t.Fatalf("expected no-op, applied=%v err=%v", applied, err)
	}
	if p.Status != domain.ParticipantWaiting || p.ConnID != "c2" {
		t.Fatalf("participant should be untouched: %+v", p)
	}
}

func TestRecordAnswerOncePerQuestion(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	_, _, _ = store.JoinParticipant(ctx, domain.Participant{ID: "p1", SessionID: "s1", Nickname: "Ana", Status: domain.ParticipantActive})

	answer := domain.Answer{ParticipantID: "p1", QuestionID: "q1", SessionID: "s1", IsCorrect: true, Points: 14, ResponseTime: 6}
	p, err := store.RecordAnswer(ctx, answer)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if p.Score != 14 || p.AnsweredQuestions != 1 || p.CorrectAnswers != 1 || p.AverageResponseTime != 6 {
		t.Fatalf("unexpected totals %+v", p)
	}

	if _, err := store.RecordAnswer(ctx, domain.Answer{ParticipantID: "p1", QuestionID: "q1", SessionID: "s1", Points: 50}); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected already answered, got %v", err)
	}
	p, _ = store.GetParticipant(ctx, "p1")
	if p.Score != 14 || p.AnsweredQuestions != 1 {
		t.Fatalf("duplicate must not change totals: %+v", p)
	}

	p, err = store.RecordAnswer(ctx, domain.Answer{ParticipantID: "p1", QuestionID: "q2", SessionID: "s1", Skipped: true, ResponseTime: 1})
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if p.Score != 14 || p.AnsweredQuestions != 2 || p.CorrectAnswers != 1 || p.AverageResponseTime != 6 {
		t.Fatalf("skip should only count the question: %+v", p)
	}
}

func TestTransitionParticipants(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	_, _, _ = store.JoinParticipant(ctx, domain.Participant{ID: "p1", SessionID: "s1", Nickname: "Ana", Status: domain.ParticipantActive})
	_, _, _ = store.JoinParticipant(ctx, domain.Participant{ID: "p2", SessionID: "s1", Nickname: "Bo", Status: domain.ParticipantDisconnected})

	at := time.Now()
	if err := store.TransitionParticipants(ctx, "s1", domain.ParticipantActive, domain.ParticipantFinished, at); err != nil {
		t.Fatalf("transition: %v", err)
	}
	p1, _ := store.GetParticipant(ctx, "p1")
	p2, _ := store.GetParticipant(ctx, "p2")
	if p1.Status != domain.ParticipantFinished || p1.FinishedAt == nil {
		t.Fatalf("expected p1 finished: %+v", p1)
	}
	if p2.Status != domain.ParticipantDisconnected {
		t.Fatalf("expected p2 untouched: %+v", p2)
	}
}
