package memory

import (
	"context"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.Store. A single mutex
// makes every method one atomic step, which is what gives join and answer
// recording their uniqueness guarantees.
type SessionStore struct {
	mu           sync.RWMutex
	clock        func() time.Time
	sessions     map[string]domain.Session
	participants map[string]domain.Participant
	answers      map[answerKey]domain.Answer
}

type answerKey struct {
	participantID string
	questionID    string
}

func NewSessionStore() *SessionStore {
	return NewSessionStoreWithClock(time.Now)
}

// NewSessionStoreWithClock allows deterministic code expiry in tests.
func NewSessionStoreWithClock(clock func() time.Time) *SessionStore {
	return &SessionStore{
		clock:        clock,
		sessions:     make(map[string]domain.Session),
		participants: make(map[string]domain.Participant),
		answers:      make(map[answerKey]domain.Answer),
	}
}

func (s *SessionStore) CodeInUse(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byCodeLocked(code)
	return ok, nil
}

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCodeLocked(session.Code); ok {
		return domain.ErrCodeInUse
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) GetSessionByCode(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byCodeLocked(code)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) byCodeLocked(code string) (domain.Session, bool) {
	now := s.clock()
	for _, session := range s.sessions {
		if session.Code == code && session.CodeExpiresAt.After(now) {
			return session, true
		}
	}
	return domain.Session{}, false
}

func (s *SessionStore) UpdateSession(_ context.Context, session domain.Session) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.ID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if current.Version != session.Version {
		return domain.Session{}, domain.ErrSessionConflict
	}
	session.Version++
	s.sessions[session.ID] = session
	return session, nil
}

func (s *SessionStore) ListOpenSessions(_ context.Context) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Session, 0)
	for _, session := range s.sessions {
		if session.Status != domain.SessionCompleted {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *SessionStore) JoinParticipant(_ context.Context, candidate domain.Participant) (domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reclaim *domain.Participant
	for _, p := range s.participants {
		if p.SessionID != candidate.SessionID || p.Nickname != candidate.Nickname {
			continue
		}
		if p.Status != domain.ParticipantDisconnected {
			return domain.Participant{}, false, domain.ErrNicknameTaken
		}
		p := p
		reclaim = &p
	}
	if reclaim != nil {
		reclaim.ConnID = candidate.ConnID
		reclaim.Status = domain.ParticipantWaiting
		if candidate.UserID != "" {
			reclaim.UserID = candidate.UserID
		}
		s.participants[reclaim.ID] = *reclaim
		return *reclaim, true, nil
	}
	s.participants[candidate.ID] = candidate
	return candidate, false, nil
}

func (s *SessionStore) GetParticipant(_ context.Context, id string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

func (s *SessionStore) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0)
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *SessionStore) DisconnectParticipant(_ context.Context, id, connID string, clearConn bool) (domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, false, domain.ErrParticipantNotFound
	}
	if p.ConnID != connID {
		return p, false, nil
	}
	p.Status = domain.ParticipantDisconnected
	if clearConn {
		p.ConnID = ""
	}
	s.participants[id] = p
	return p, true, nil
}

func (s *SessionStore) TransitionParticipants(_ context.Context, sessionID string, from, to domain.ParticipantStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.participants {
		if p.SessionID != sessionID || p.Status != from {
			continue
		}
		p.Status = to
		if to == domain.ParticipantFinished {
			finished := at
			p.FinishedAt = &finished
		}
		s.participants[id] = p
	}
	return nil
}

func (s *SessionStore) HasAnswer(_ context.Context, participantID, questionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.answers[answerKey{participantID, questionID}]
	return ok, nil
}

func (s *SessionStore) RecordAnswer(_ context.Context, answer domain.Answer) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{answer.ParticipantID, answer.QuestionID}
	if _, ok := s.answers[key]; ok {
		return domain.Participant{}, domain.ErrAlreadyAnswered
	}
	p, ok := s.participants[answer.ParticipantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	s.answers[key] = answer
	p.ApplyAnswer(answer)
	s.participants[p.ID] = p
	return p, nil
}

func (s *SessionStore) ListAnswers(_ context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Answer, 0)
	for _, a := range s.answers {
		if a.SessionID == sessionID && a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	return out, nil
}
