package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
)

// Submission is one participant answer as reported by the client.
type Submission struct {
	QuestionID   string
	Answer       json.RawMessage
	ResponseTime float64 // seconds
}

// SubmitAnswer scores a submission from the participant bound to connID.
// The answer is recorded at most once per (participant, question).
func (s *LiveService) SubmitAnswer(ctx context.Context, connID string, sub Submission) (domain.AnswerResult, error) {
	b, ok := s.registry.Lookup(connID)
	if !ok || !b.Participant() {
		return domain.AnswerResult{}, domain.ErrNotInSession
	}
	session, quiz, err := s.loadSession(ctx, b.SessionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if session.Status != domain.SessionActive {
		return domain.AnswerResult{}, domain.ErrSessionNotActive
	}
	answered, err := s.store.HasAnswer(ctx, b.ParticipantID, sub.QuestionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if answered {
		return domain.AnswerResult{}, domain.ErrAlreadyAnswered
	}
	question, ok := quiz.QuestionByID(sub.QuestionID)
	if !ok {
		return domain.AnswerResult{}, domain.ErrQuestionNotFound
	}

	responseTime := s.responseTime(session, sub.ResponseTime)
	correct := Evaluate(question, sub.Answer)
	answer := domain.Answer{
		ParticipantID: b.ParticipantID,
		QuestionID:    question.ID,
		SessionID:     session.ID,
		Raw:           sub.Answer,
		IsCorrect:     correct,
		Points:        AwardPoints(question, correct, responseTime, s.opts.DefaultTimeLimit),
		ResponseTime:  responseTime,
		CreatedAt:     s.now(),
	}
	participant, err := s.store.RecordAnswer(ctx, answer)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	metrics.ObserveAnswer(correct)

	s.broadcast.Publish(domain.HostGroup(session.ID), domain.Event{
		Type: domain.EventAnswerReceived,
		Payload: domain.AnswerReceived{
			ParticipantID: participant.ID,
			QuestionID:    question.ID,
			IsCorrect:     correct,
			ResponseTime:  responseTime,
		},
	})
	result := domain.AnswerResult{
		QuestionID: question.ID,
		Correct:    correct,
		Awarded:    answer.Points,
		TotalScore: participant.Score,
	}
	s.broadcast.Send(connID, domain.Event{Type: domain.EventAnswerResult, Payload: result})

	if err := s.broadcastLeaderboard(ctx, session.ID); err != nil {
		s.log.Error("leaderboard broadcast failed", slog.String("session_id", session.ID), slog.Any("error", err))
	}
	return result, nil
}

// SkipQuestion records an empty answer to the session's current question.
// Only the participant's answered count changes.
func (s *LiveService) SkipQuestion(ctx context.Context, connID string, reportedTime float64) (domain.AnswerResult, error) {
	b, ok := s.registry.Lookup(connID)
	if !ok || !b.Participant() {
		return domain.AnswerResult{}, domain.ErrNotInSession
	}
	session, quiz, err := s.loadSession(ctx, b.SessionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if session.Status != domain.SessionActive {
		return domain.AnswerResult{}, domain.ErrSessionNotActive
	}
	question := quiz.Questions[session.CurrentQuestionIndex]
	answered, err := s.store.HasAnswer(ctx, b.ParticipantID, question.ID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if answered {
		return domain.AnswerResult{}, domain.ErrAlreadyAnswered
	}

	responseTime := s.responseTime(session, reportedTime)
	participant, err := s.store.RecordAnswer(ctx, domain.Answer{
		ParticipantID: b.ParticipantID,
		QuestionID:    question.ID,
		SessionID:     session.ID,
		Skipped:       true,
		ResponseTime:  responseTime,
		CreatedAt:     s.now(),
	})
	if err != nil {
		return domain.AnswerResult{}, err
	}

	s.broadcast.Publish(domain.HostGroup(session.ID), domain.Event{
		Type: domain.EventAnswerReceived,
		Payload: domain.AnswerReceived{
			ParticipantID: participant.ID,
			QuestionID:    question.ID,
			ResponseTime:  responseTime,
			Skipped:       true,
		},
	})
	result := domain.AnswerResult{QuestionID: question.ID, TotalScore: participant.Score}
	s.broadcast.Send(connID, domain.Event{Type: domain.EventAnswerResult, Payload: result})
	return result, nil
}

// responseTime sanitizes a client-reported duration. With ServerTiming it is
// raised to the time elapsed since the question was broadcast.
func (s *LiveService) responseTime(session domain.Session, reported float64) float64 {
	if math.IsNaN(reported) || math.IsInf(reported, 0) || reported < 0 {
		reported = 0
	}
	if !s.opts.ServerTiming || session.QuestionStartedAt == nil {
		return reported
	}
	elapsed := s.now().Sub(*session.QuestionStartedAt).Seconds()
	return math.Max(reported, elapsed)
}
