package app

import (
	"context"
	"sort"

	"live-quiz-service/internal/domain"
)

// RankParticipants orders participants by score descending, then by average
// response time ascending, and returns at most limit entries ranked 1..n.
// Nickname and id break any remaining ties so the order is deterministic.
func RankParticipants(participants []domain.Participant, limit int) []domain.LeaderboardEntry {
	sorted := make([]domain.Participant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.AverageResponseTime != b.AverageResponseTime {
			return a.AverageResponseTime < b.AverageResponseTime
		}
		if a.Nickname != b.Nickname {
			return a.Nickname < b.Nickname
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	for i, p := range sorted {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID:     p.ID,
			Nickname:          p.Nickname,
			Score:             p.Score,
			AnsweredQuestions: p.AnsweredQuestions,
			CorrectAnswers:    p.CorrectAnswers,
			Rank:              i + 1,
		})
	}
	return entries
}

// Leaderboard computes the bounded leaderboard of a session.
func (s *LiveService) Leaderboard(ctx context.Context, sessionID string) (domain.Leaderboard, error) {
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return domain.Leaderboard{
		SessionID: sessionID,
		Entries:   RankParticipants(participants, s.opts.LeaderboardSize),
		UpdatedAt: s.now(),
	}, nil
}

// SendLeaderboard delivers the current leaderboard privately to connID. Hosts
// name the session explicitly; participants default to their own session.
func (s *LiveService) SendLeaderboard(ctx context.Context, connID string, caller *domain.Identity, sessionID string) (domain.Leaderboard, error) {
	b, _ := s.registry.Lookup(connID)
	switch {
	case sessionID == "" && b.Participant():
		sessionID = b.SessionID
	case sessionID == "":
		return domain.Leaderboard{}, domain.ErrNotInSession
	case sessionID != b.SessionID:
		if _, err := s.hostOnly(ctx, caller, sessionID); err != nil {
			return domain.Leaderboard{}, err
		}
	}
	lb, err := s.Leaderboard(ctx, sessionID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	s.broadcast.Send(connID, domain.Event{Type: domain.EventLeaderboardUpdated, Payload: lb})
	return lb, nil
}

func (s *LiveService) broadcastLeaderboard(ctx context.Context, sessionID string) error {
	lb, err := s.Leaderboard(ctx, sessionID)
	if err != nil {
		return err
	}
	s.broadcast.Publish(domain.SessionGroup(sessionID), domain.Event{Type: domain.EventLeaderboardUpdated, Payload: lb})
	return nil
}
