package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"live-quiz-service/internal/domain"
)

// CreateSession opens a new waiting session for quizID hosted by caller and
// subscribes connID to the session and host groups.
func (s *LiveService) CreateSession(ctx context.Context, connID string, caller *domain.Identity, quizID string) (domain.Session, error) {
	if caller == nil || caller.ID == "" {
		return domain.Session{}, domain.ErrUnauthorized
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Session{}, err
	}
	if len(quiz.Questions) == 0 {
		return domain.Session{}, domain.ErrEmptyQuiz
	}

	code, err := s.codes.Generate(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	now := s.now()
	session := domain.Session{
		ID:            uuid.NewString(),
		Code:          code,
		QuizID:        quiz.ID,
		HostID:        caller.ID,
		Status:        domain.SessionWaiting,
		CreatedAt:     now,
		UpdatedAt:     now,
		CodeExpiresAt: now.Add(s.opts.CodeTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return domain.Session{}, err
	}

	s.bindHost(connID, session.ID)
	descriptor := quiz.Describe()
	s.broadcast.Send(connID, domain.Event{Type: domain.EventSessionCreated, Payload: snapshot(session, &descriptor)})
	s.log.Info("session created",
		slog.String("session_id", session.ID),
		slog.String("code", session.Code),
		slog.String("quiz_id", quiz.ID),
		slog.String("host_id", caller.ID))
	return session, nil
}

// AttachHost re-subscribes a host connection to a session it owns.
func (s *LiveService) AttachHost(ctx context.Context, connID string, caller *domain.Identity, sessionID string) (domain.Session, error) {
	session, quiz, err := s.hostSession(ctx, caller, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	s.bindHost(connID, session.ID)
	descriptor := quiz.Describe()
	s.broadcast.Send(connID, domain.Event{Type: domain.EventSessionUpdated, Payload: snapshot(session, &descriptor)})
	if session.Status == domain.SessionActive {
		s.broadcast.Send(connID, s.questionEvent(session, quiz))
	}
	return session, nil
}

// Start moves a waiting session to active at the first question and
// activates every waiting participant.
func (s *LiveService) Start(ctx context.Context, caller *domain.Identity, sessionID string) (domain.Session, error) {
	session, quiz, err := s.hostSession(ctx, caller, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status != domain.SessionWaiting {
		return domain.Session{}, domain.ErrInvalidTransition
	}

	now := s.now()
	session.Status = domain.SessionActive
	session.StartedAt = &now
	session.CurrentQuestionIndex = 0
	session.ShowLeaderboard = false
	session.QuestionStartedAt = &now
	session.UpdatedAt = now
	session, err = s.store.UpdateSession(ctx, session)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.store.TransitionParticipants(ctx, session.ID, domain.ParticipantWaiting, domain.ParticipantActive, now); err != nil {
		return session, err
	}

	s.broadcast.Publish(domain.SessionGroup(session.ID), domain.Event{Type: domain.EventSessionUpdated, Payload: snapshot(session, nil)})
	s.broadcast.Publish(domain.SessionGroup(session.ID), s.questionEvent(session, quiz))
	s.publishLifecycle(ctx, domain.SessionEvent{
		Name:       domain.SessionEventStarted,
		SessionID:  session.ID,
		QuizID:     session.QuizID,
		HostID:     session.HostID,
		Status:     session.Status,
		OccurredAt: now,
	})
	return session, nil
}

// AdvanceQuestion moves the question pointer forward by one.
func (s *LiveService) AdvanceQuestion(ctx context.Context, caller *domain.Identity, sessionID string) (domain.Session, error) {
	session, quiz, err := s.hostSession(ctx, caller, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status != domain.SessionActive {
		return domain.Session{}, domain.ErrInvalidTransition
	}
	next := session.CurrentQuestionIndex + 1
	if next >= len(quiz.Questions) {
		return domain.Session{}, domain.ErrNoMoreQuestions
	}
	return s.moveQuestion(ctx, session, quiz, next)
}

// RetreatQuestion moves the question pointer back by one.
func (s *LiveService) RetreatQuestion(ctx context.Context, caller *domain.Identity, sessionID string) (domain.Session, error) {
	session, quiz, err := s.hostSession(ctx, caller, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status != domain.SessionActive {
		return domain.Session{}, domain.ErrInvalidTransition
	}
	if session.CurrentQuestionIndex <= 0 {
		return domain.Session{}, domain.ErrAlreadyAtStart
	}
	return s.moveQuestion(ctx, session, quiz, session.CurrentQuestionIndex-1)
}

func (s *LiveService) moveQuestion(ctx context.Context, session domain.Session, quiz domain.Quiz, index int) (domain.Session, error) {
	now := s.now()
	session.CurrentQuestionIndex = index
	session.ShowLeaderboard = false
	session.QuestionStartedAt = &now
	session.UpdatedAt = now
	session, err := s.store.UpdateSession(ctx, session)
	if err != nil {
		return domain.Session{}, err
	}
	s.broadcast.Publish(domain.SessionGroup(session.ID), s.questionEvent(session, quiz))
	return session, nil
}

// Pause suspends an active session without moving the question pointer.
func (s *LiveService) Pause(ctx context.Context, caller *domain.Identity, sessionID string) (domain.Session, error) {
	return s.setStatus(ctx, caller, sessionID, domain.SessionActive, domain.SessionPaused)
}

// Resume reactivates a paused session.
func (s *LiveService) Resume(ctx context.Context, caller *domain.Identity, sessionID string) (domain.Session, error) {
	return s.setStatus(ctx, caller, sessionID, domain.SessionPaused, domain.SessionActive)
}

func (s *LiveService) setStatus(ctx context.Context, caller *domain.Identity, sessionID string, from, to domain.SessionStatus) (domain.Session, error) {
	session, err := s.hostOnly(ctx, caller, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status != from {
		return domain.Session{}, domain.ErrInvalidTransition
	}
	session.Status = to
	session.UpdatedAt = s.now()
	session, err = s.store.UpdateSession(ctx, session)
	if err != nil {
		return domain.Session{}, err
	}
	s.broadcast.Publish(domain.SessionGroup(session.ID), domain.Event{Type: domain.EventSessionUpdated, Payload: snapshot(session, nil)})
	return session, nil
}

// End completes an active or paused session, finishes active participants
// and broadcasts the final results.
func (s *LiveService) End(ctx context.Context, caller *domain.Identity, sessionID string) (domain.Session, error) {
	session, err := s.hostOnly(ctx, caller, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status != domain.SessionActive && session.Status != domain.SessionPaused {
		return domain.Session{}, domain.ErrInvalidTransition
	}
	return s.complete(ctx, session)
}

// complete is shared by End and the stale session sweeper.
func (s *LiveService) complete(ctx context.Context, session domain.Session) (domain.Session, error) {
	now := s.now()
	session.Status = domain.SessionCompleted
	session.EndedAt = &now
	session.ShowLeaderboard = true
	session.UpdatedAt = now
	session, err := s.store.UpdateSession(ctx, session)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.store.TransitionParticipants(ctx, session.ID, domain.ParticipantActive, domain.ParticipantFinished, now); err != nil {
		return session, err
	}

	group := domain.SessionGroup(session.ID)
	s.broadcast.Publish(group, domain.Event{Type: domain.EventSessionUpdated, Payload: snapshot(session, nil)})

	final, err := s.Leaderboard(ctx, session.ID)
	if err != nil {
		return session, err
	}
	s.broadcast.Publish(group, domain.Event{Type: domain.EventSessionResults, Payload: final})
	s.publishLifecycle(ctx, domain.SessionEvent{
		Name:        domain.SessionEventCompleted,
		SessionID:   session.ID,
		QuizID:      session.QuizID,
		HostID:      session.HostID,
		Status:      session.Status,
		Leaderboard: &final,
		OccurredAt:  now,
	})
	s.log.Info("session completed", slog.String("session_id", session.ID), slog.Int("participants", len(final.Entries)))
	return session, nil
}

// ToggleResultsVisibility flips the results flag of an active session. When
// enabled, the current question's statistics and answer key are released.
func (s *LiveService) ToggleResultsVisibility(ctx context.Context, caller *domain.Identity, sessionID string, show bool) (domain.Session, error) {
	session, quiz, err := s.hostSession(ctx, caller, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status != domain.SessionActive {
		return domain.Session{}, domain.ErrInvalidTransition
	}
	session.ShowLeaderboard = show
	session.UpdatedAt = s.now()
	session, err = s.store.UpdateSession(ctx, session)
	if err != nil {
		return domain.Session{}, err
	}

	group := domain.SessionGroup(session.ID)
	s.broadcast.Publish(group, domain.Event{Type: domain.EventSessionUpdated, Payload: snapshot(session, nil)})
	if !show {
		return session, nil
	}
	stats, err := s.QuestionStats(ctx, session, quiz)
	if err != nil {
		return session, err
	}
	s.broadcast.Publish(group, domain.Event{Type: domain.EventQuestionResults, Payload: stats})
	return session, nil
}

// QuestionStats aggregates the answers to the session's current question.
func (s *LiveService) QuestionStats(ctx context.Context, session domain.Session, quiz domain.Quiz) (domain.QuestionStats, error) {
	question := quiz.Questions[session.CurrentQuestionIndex]
	answers, err := s.store.ListAnswers(ctx, session.ID, question.ID)
	if err != nil {
		return domain.QuestionStats{}, err
	}
	stats := domain.QuestionStats{
		QuestionID:    question.ID,
		TotalAnswers:  len(answers),
		CorrectAnswer: question.CorrectAnswer(),
		Explanation:   question.Explanation,
	}
	var total float64
	var timed int
	for _, a := range answers {
		if a.IsCorrect {
			stats.CorrectCount++
		}
		if a.Skipped {
			continue
		}
		total += a.ResponseTime
		timed++
	}
	if timed > 0 {
		stats.AverageResponseTime = total / float64(timed)
	}
	return stats, nil
}

func (s *LiveService) hostOnly(ctx context.Context, caller *domain.Identity, sessionID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if caller == nil || caller.ID == "" || caller.ID != session.HostID {
		return domain.Session{}, domain.ErrUnauthorized
	}
	return session, nil
}

func (s *LiveService) hostSession(ctx context.Context, caller *domain.Identity, sessionID string) (domain.Session, domain.Quiz, error) {
	session, err := s.hostOnly(ctx, caller, sessionID)
	if err != nil {
		return domain.Session{}, domain.Quiz{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Session{}, domain.Quiz{}, err
	}
	return session, quiz, nil
}

func (s *LiveService) bindHost(connID, sessionID string) {
	if connID == "" {
		return
	}
	s.registry.BindHost(connID, sessionID)
	s.broadcast.Join(domain.SessionGroup(sessionID), connID)
	s.broadcast.Join(domain.HostGroup(sessionID), connID)
}

func (s *LiveService) questionEvent(session domain.Session, quiz domain.Quiz) domain.Event {
	startedAt := s.now()
	if session.QuestionStartedAt != nil {
		startedAt = *session.QuestionStartedAt
	}
	return domain.Event{
		Type:    domain.EventQuestionStarted,
		Payload: questionView(quiz, session.CurrentQuestionIndex, startedAt, s.opts.DefaultTimeLimit),
	}
}

// questionView builds the redacted form of the question at index.
func questionView(quiz domain.Quiz, index int, startedAt time.Time, defaultLimit time.Duration) domain.QuestionView {
	q := quiz.Questions[index]
	return domain.QuestionView{
		ID:        q.ID,
		Type:      q.Type,
		Prompt:    q.Prompt,
		Options:   q.Options,
		TimeLimit: timeLimitSeconds(q, defaultLimit),
		Points:    basePoints(q),
		ImageRef:  q.ImageRef,
		Position:  index + 1,
		Total:     len(quiz.Questions),
		StartedAt: startedAt,
	}
}

func snapshot(session domain.Session, quiz *domain.QuizDescriptor) domain.SessionSnapshot {
	return domain.SessionSnapshot{
		SessionID:            session.ID,
		Code:                 session.Code,
		Status:               session.Status,
		CurrentQuestionIndex: session.CurrentQuestionIndex,
		ShowLeaderboard:      session.ShowLeaderboard,
		Quiz:                 quiz,
	}
}
