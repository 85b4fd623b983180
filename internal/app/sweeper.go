package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
)

// Sweeper periodically completes started sessions that have been idle for
// too long. Waiting sessions are never swept; they lapse with their code.
// It uses the same compare-and-set writes as host operations, so a sweep
// racing a host action simply loses.
type Sweeper struct {
	service    *LiveService
	interval   time.Duration
	staleAfter time.Duration
}

func NewSweeper(service *LiveService, interval, staleAfter time.Duration) *Sweeper {
	return &Sweeper{service: service, interval: interval, staleAfter: staleAfter}
}

// Run sweeps every interval until ctx is canceled.
func (w *Sweeper) Run(ctx context.Context) {
	if w.interval <= 0 || w.staleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.service.log.Error("stale session sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep completes every active or paused session not updated within
// staleAfter and returns how many it closed.
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	s := w.service
	sessions, err := s.store.ListOpenSessions(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-w.staleAfter)
	closed := 0
	for _, session := range sessions {
		if !sweepable(session.Status) || session.UpdatedAt.After(cutoff) {
			continue
		}
		if _, err := s.complete(ctx, session); err != nil {
			if errors.Is(err, domain.ErrSessionConflict) {
				continue
			}
			s.log.Warn("complete stale session failed", slog.String("session_id", session.ID), slog.Any("error", err))
			continue
		}
		closed++
		s.log.Info("stale session completed", slog.String("session_id", session.ID), slog.String("previous_status", string(session.Status)))
	}
	metrics.ObserveSweep(closed)
	return closed, nil
}

func sweepable(status domain.SessionStatus) bool {
	return status == domain.SessionActive || status == domain.SessionPaused
}
