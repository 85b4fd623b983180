package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"live-quiz-service/internal/domain"
)

// SessionStore is a Redis implementation of app.Store, shared by every
// service instance. Key layout:
//
//	live:session:{id}                 JSON session, compare-and-set via WATCH
//	live:code:{code}                  session id, SET NX with the code TTL
//	live:sessions:open                set of non-completed session ids
//	live:session:{id}:participants    set of participant ids
//	live:session:{id}:nicknames       hash nickname -> participant id
//	live:participant:{id}             hash of participant fields
//	live:participant:{id}:answers     hash question id -> JSON answer
//
// Join and answer recording run as Lua scripts so the uniqueness checks and
// the writes they guard are a single atomic step.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

const (
	openSessionsKey   = "live:sessions:open"
	participantPrefix = "live:participant:"
)

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(id string) string { return "live:session:" + id }

func codeKey(code string) string { return "live:code:" + code }

func participantsKey(id string) string { return "live:session:" + id + ":participants" }

func nicknamesKey(id string) string { return "live:session:" + id + ":nicknames" }

func participantKey(id string) string { return participantPrefix + id }

func answersKey(participantID string) string { return participantPrefix + participantID + ":answers" }

func (s *SessionStore) CodeInUse(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, codeKey(code)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	codeTTL := time.Until(session.CodeExpiresAt)
	if codeTTL <= 0 {
		return fmt.Errorf("session code already expired")
	}
	ok, err := s.client.SetNX(ctx, codeKey(session.Code), session.ID, codeTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrCodeInUse
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, s.ttl)
		pipe.SAdd(ctx, openSessionsKey, session.ID)
		return nil
	})
	return err
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return getSession(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getSession(ctx context.Context, c getter, id string) (domain.Session, error) {
	raw, err := c.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return session, nil
}

func (s *SessionStore) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	id, err := s.client.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return s.GetSession(ctx, id)
}

func (s *SessionStore) UpdateSession(ctx context.Context, session domain.Session) (domain.Session, error) {
	key := sessionKey(session.ID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getSession(ctx, tx, session.ID)
		if err != nil {
			return err
		}
		if current.Version != session.Version {
			return domain.ErrSessionConflict
		}
		session.Version++
		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if session.Status == domain.SessionCompleted {
				pipe.SRem(ctx, openSessionsKey, session.ID)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.Session{}, domain.ErrSessionConflict
	}
	if err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (s *SessionStore) ListOpenSessions(ctx context.Context) ([]domain.Session, error) {
	ids, err := s.client.SMembers(ctx, openSessionsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			// expired underneath us
			s.client.SRem(ctx, openSessionsKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

var joinScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[1], ARGV[1])
if existing then
  local pkey = ARGV[7] .. existing
  local status = redis.call('HGET', pkey, 'status')
  if status and status ~= 'disconnected' then
    return {0, existing}
  end
  if status then
    redis.call('HSET', pkey, 'conn_id', ARGV[3], 'status', 'waiting')
    if ARGV[4] ~= '' then
      redis.call('HSET', pkey, 'user_id', ARGV[4])
    end
    return {2, existing}
  end
end
redis.call('HSET', KEYS[3],
  'id', ARGV[2], 'session_id', ARGV[6], 'user_id', ARGV[4], 'nickname', ARGV[1],
  'conn_id', ARGV[3], 'status', ARGV[9], 'score', 0, 'answered', 0, 'correct', 0,
  'avg_response', 0, 'joined_at', ARGV[5])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[2])
local ttl = tonumber(ARGV[8])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
  redis.call('EXPIRE', KEYS[2], ttl)
  redis.call('EXPIRE', KEYS[3], ttl)
end
return {1, ARGV[2]}
`)

func (s *SessionStore) JoinParticipant(ctx context.Context, candidate domain.Participant) (domain.Participant, bool, error) {
	res, err := joinScript.Run(ctx, s.client,
		[]string{nicknamesKey(candidate.SessionID), participantsKey(candidate.SessionID), participantKey(candidate.ID)},
		candidate.Nickname,
		candidate.ID,
		candidate.ConnID,
		candidate.UserID,
		candidate.JoinedAt.UTC().Format(time.RFC3339Nano),
		candidate.SessionID,
		participantPrefix,
		int64(s.ttl/time.Second),
		string(candidate.Status),
	).Slice()
	if err != nil {
		return domain.Participant{}, false, err
	}
	if len(res) != 2 {
		return domain.Participant{}, false, fmt.Errorf("unexpected join script result %v", res)
	}
	outcome, _ := res[0].(int64)
	id, _ := res[1].(string)
	if outcome == 0 {
		return domain.Participant{}, false, domain.ErrNicknameTaken
	}
	p, err := s.GetParticipant(ctx, id)
	if err != nil {
		return domain.Participant{}, false, err
	}
	return p, outcome == 2, nil
}

func (s *SessionStore) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	fields, err := s.client.HGetAll(ctx, participantKey(id)).Result()
	if err != nil {
		return domain.Participant{}, err
	}
	if len(fields) == 0 {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return decodeParticipant(fields)
}

func (s *SessionStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	ids, err := s.client.SMembers(ctx, participantsKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, participantKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]domain.Participant, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		p, err := decodeParticipant(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SessionStore) DisconnectParticipant(ctx context.Context, id, connID string, clearConn bool) (domain.Participant, bool, error) {
	key := participantKey(id)
	var (
		result  domain.Participant
		applied bool
	)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return domain.ErrParticipantNotFound
		}
		p, err := decodeParticipant(fields)
		if err != nil {
			return err
		}
		if p.ConnID != connID {
			result, applied = p, false
			return nil
		}
		p.Status = domain.ParticipantDisconnected
		if clearConn {
			p.ConnID = ""
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "status", string(p.Status), "conn_id", p.ConnID)
			return nil
		})
		if err != nil {
			return err
		}
		result, applied = p, true
		return nil
	}, key)
	if err != nil {
		return domain.Participant{}, false, err
	}
	return result, applied, nil
}

var transitionScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local moved = 0
for _, id in ipairs(ids) do
  local key = ARGV[4] .. id
  if redis.call('HGET', key, 'status') == ARGV[1] then
    redis.call('HSET', key, 'status', ARGV[2])
    if ARGV[2] == 'finished' then
      redis.call('HSET', key, 'finished_at', ARGV[3])
    end
    moved = moved + 1
  end
end
return moved
`)

func (s *SessionStore) TransitionParticipants(ctx context.Context, sessionID string, from, to domain.ParticipantStatus, at time.Time) error {
	return transitionScript.Run(ctx, s.client,
		[]string{participantsKey(sessionID)},
		string(from), string(to), at.UTC().Format(time.RFC3339Nano), participantPrefix,
	).Err()
}

func (s *SessionStore) HasAnswer(ctx context.Context, participantID, questionID string) (bool, error) {
	return s.client.HExists(ctx, answersKey(participantID), questionID).Result()
}

var recordAnswerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
  return -2
end
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return -1
end
local answered = redis.call('HINCRBY', KEYS[2], 'answered', 1)
local ttl = tonumber(ARGV[7])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
if ARGV[6] == '1' then
  return 1
end
redis.call('HINCRBY', KEYS[2], 'score', ARGV[3])
redis.call('HINCRBY', KEYS[2], 'correct', ARGV[4])
local avg = tonumber(redis.call('HGET', KEYS[2], 'avg_response') or '0') or 0
avg = (avg * (answered - 1) + tonumber(ARGV[5])) / answered
redis.call('HSET', KEYS[2], 'avg_response', tostring(avg))
return 1
`)

func (s *SessionStore) RecordAnswer(ctx context.Context, answer domain.Answer) (domain.Participant, error) {
	data, err := json.Marshal(answer)
	if err != nil {
		return domain.Participant{}, err
	}
	code, err := recordAnswerScript.Run(ctx, s.client,
		[]string{answersKey(answer.ParticipantID), participantKey(answer.ParticipantID)},
		answer.QuestionID,
		data,
		answer.Points,
		boolFlag(answer.IsCorrect),
		strconv.FormatFloat(answer.ResponseTime, 'f', -1, 64),
		boolFlag(answer.Skipped),
		int64(s.ttl/time.Second),
	).Int64()
	if err != nil {
		return domain.Participant{}, err
	}
	switch code {
	case -2:
		return domain.Participant{}, domain.ErrParticipantNotFound
	case -1:
		return domain.Participant{}, domain.ErrAlreadyAnswered
	}
	return s.GetParticipant(ctx, answer.ParticipantID)
}

func (s *SessionStore) ListAnswers(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	ids, err := s.client.SMembers(ctx, participantsKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, answersKey(id), questionID)
	}
	if len(ids) > 0 {
		// redis.Nil for participants without an answer is expected
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
	}
	out := make([]domain.Answer, 0, len(ids))
	for _, cmd := range cmds {
		raw, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var a domain.Answer
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode answer: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func decodeParticipant(fields map[string]string) (domain.Participant, error) {
	p := domain.Participant{
		ID:        fields["id"],
		SessionID: fields["session_id"],
		UserID:    fields["user_id"],
		Nickname:  fields["nickname"],
		ConnID:    fields["conn_id"],
		Status:    domain.ParticipantStatus(fields["status"]),
	}
	var err error
	if p.Score, err = atoi(fields["score"]); err != nil {
		return p, err
	}
	if p.AnsweredQuestions, err = atoi(fields["answered"]); err != nil {
		return p, err
	}
	if p.CorrectAnswers, err = atoi(fields["correct"]); err != nil {
		return p, err
	}
	if v := fields["avg_response"]; v != "" {
		if p.AverageResponseTime, err = strconv.ParseFloat(v, 64); err != nil {
			return p, fmt.Errorf("decode avg_response: %w", err)
		}
	}
	if v := fields["joined_at"]; v != "" {
		if p.JoinedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return p, err
		}
	}
	if v := fields["finished_at"]; v != "" {
		finished, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return p, err
		}
		p.FinishedAt = &finished
	}
	return p, nil
}

func atoi(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
