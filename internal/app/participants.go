package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"live-quiz-service/internal/domain"
)

// Join enters connID into the session identified by code under nickname.
// A disconnected participant with the same nickname is reclaimed with its
// score and history intact.
func (s *LiveService) Join(ctx context.Context, connID string, caller *domain.Identity, code, nickname string) (domain.Participant, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	nickname = strings.TrimSpace(nickname)
	if code == "" || nickname == "" {
		return domain.Participant{}, domain.ErrInvalidPayload
	}

	session, err := s.store.GetSessionByCode(ctx, code)
	if err != nil {
		return domain.Participant{}, err
	}
	if !session.Joinable() {
		return domain.Participant{}, domain.ErrSessionNotJoinable
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Participant{}, err
	}

	prev, bound := s.registry.Lookup(connID)
	bound = bound && prev.Participant()
	if bound && prev.SessionID == session.ID {
		current, err := s.store.GetParticipant(ctx, prev.ParticipantID)
		if err != nil {
			return domain.Participant{}, err
		}
		if current.Nickname == nickname {
			s.sendJoinSnapshot(connID, session, quiz, current)
			return current, nil
		}
	}

	candidate := domain.Participant{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Nickname:  nickname,
		ConnID:    connID,
		Status:    domain.ParticipantWaiting,
		JoinedAt:  s.now(),
	}
	if caller != nil {
		candidate.UserID = caller.ID
	}
	participant, reconnected, err := s.store.JoinParticipant(ctx, candidate)
	if err != nil {
		return domain.Participant{}, err
	}

	// the previous binding is released only once the new join is stored
	if bound {
		if _, err := s.depart(ctx, connID, prev, prev.SessionID != session.ID); err != nil {
			s.log.Warn("release previous participant failed",
				slog.String("session_id", prev.SessionID),
				slog.String("participant_id", prev.ParticipantID),
				slog.Any("error", err))
		}
	}

	group := domain.SessionGroup(session.ID)
	s.registry.BindParticipant(connID, session.ID, participant.ID)
	s.broadcast.Join(group, connID)
	s.broadcast.Publish(group, domain.Event{
		Type:    domain.EventParticipantJoined,
		Payload: domain.ParticipantPresence{ParticipantID: participant.ID, Nickname: participant.Nickname},
	})
	s.sendJoinSnapshot(connID, session, quiz, participant)

	s.log.Info("participant joined",
		slog.String("session_id", session.ID),
		slog.String("participant_id", participant.ID),
		slog.String("nickname", participant.Nickname),
		slog.Bool("reconnected", reconnected))
	return participant, nil
}

// Leave is the explicit exit of the participant bound to connID.
func (s *LiveService) Leave(ctx context.Context, connID string) (domain.Participant, error) {
	b, ok := s.registry.Lookup(connID)
	if !ok || !b.Participant() {
		return domain.Participant{}, domain.ErrNotInSession
	}
	participant, err := s.depart(ctx, connID, b, true)
	if err != nil {
		return domain.Participant{}, err
	}
	s.registry.UnbindParticipant(connID)
	return participant, nil
}

// depart marks the participant in b as gone and tells its session. The
// registry binding is left to the caller.
func (s *LiveService) depart(ctx context.Context, connID string, b Binding, leaveGroup bool) (domain.Participant, error) {
	participant, applied, err := s.store.DisconnectParticipant(ctx, b.ParticipantID, connID, false)
	if err != nil {
		return domain.Participant{}, err
	}
	group := domain.SessionGroup(b.SessionID)
	if applied {
		s.broadcast.Publish(group, domain.Event{
			Type:    domain.EventParticipantLeft,
			Payload: domain.ParticipantPresence{ParticipantID: participant.ID, Nickname: participant.Nickname},
		})
	}
	if leaveGroup {
		s.broadcast.Leave(group, connID)
	}
	return participant, nil
}

func (s *LiveService) sendJoinSnapshot(connID string, session domain.Session, quiz domain.Quiz, participant domain.Participant) {
	descriptor := quiz.Describe()
	snap := snapshot(session, &descriptor)
	snap.ParticipantID = participant.ID
	snap.Nickname = participant.Nickname
	s.broadcast.Send(connID, domain.Event{Type: domain.EventSessionUpdated, Payload: snap})
	if session.Status == domain.SessionActive {
		s.broadcast.Send(connID, s.questionEvent(session, quiz))
	}
}

// HandleDisconnect reconciles an abrupt connection loss. It behaves like
// Leave but also clears the stored connection handle and flags the
// participant_left event as a drop.
func (s *LiveService) HandleDisconnect(ctx context.Context, connID string) error {
	b, ok := s.registry.Remove(connID)
	if !ok {
		return nil
	}
	for _, sessionID := range b.HostOf {
		s.broadcast.Leave(domain.HostGroup(sessionID), connID)
		s.broadcast.Leave(domain.SessionGroup(sessionID), connID)
	}
	if !b.Participant() {
		return nil
	}

	group := domain.SessionGroup(b.SessionID)
	defer s.broadcast.Leave(group, connID)

	participant, applied, err := s.store.DisconnectParticipant(ctx, b.ParticipantID, connID, true)
	if err != nil {
		return err
	}
	if !applied {
		// the participant already reconnected on another connection
		return nil
	}
	s.broadcast.Publish(group, domain.Event{
		Type: domain.EventParticipantLeft,
		Payload: domain.ParticipantPresence{
			ParticipantID: participant.ID,
			Nickname:      participant.Nickname,
			Disconnected:  true,
		},
	})
	s.log.Info("participant disconnected",
		slog.String("session_id", b.SessionID),
		slog.String("participant_id", participant.ID))
	return nil
}
