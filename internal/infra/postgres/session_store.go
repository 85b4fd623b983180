package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"live-quiz-service/internal/domain"
)

// SessionStore persists live sessions, participants and answers with bun.
// Uniqueness of nicknames and of one answer per question is enforced by the
// schema; session writes are compare-and-set on the version column.
type SessionStore struct {
	db    *bun.DB
	clock func() time.Time
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db, clock: time.Now}
}

type sessionRow struct {
	bun.BaseModel `bun:"table:live_sessions,alias:ls"`

	ID                   string     `bun:"id,pk"`
	Code                 string     `bun:"code,notnull"`
	QuizID               string     `bun:"quiz_id,notnull"`
	HostID               string     `bun:"host_id,notnull"`
	Status               string     `bun:"status,notnull"`
	CurrentQuestionIndex int        `bun:"current_question_index,notnull"`
	ShowLeaderboard      bool       `bun:"show_leaderboard,notnull"`
	QuestionStartedAt    *time.Time `bun:"question_started_at"`
	CreatedAt            time.Time  `bun:"created_at,notnull"`
	StartedAt            *time.Time `bun:"started_at"`
	EndedAt              *time.Time `bun:"ended_at"`
	UpdatedAt            time.Time  `bun:"updated_at,notnull"`
	CodeExpiresAt        time.Time  `bun:"code_expires_at,notnull"`
	Version              int64      `bun:"version,notnull"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:live_participants,alias:lp"`

	ID                  string     `bun:"id,pk"`
	SessionID           string     `bun:"session_id,notnull"`
	UserID              string     `bun:"user_id,notnull"`
	Nickname            string     `bun:"nickname,notnull"`
	ConnID              string     `bun:"conn_id,notnull"`
	Status              string     `bun:"status,notnull"`
	Score               int        `bun:"score,notnull"`
	AnsweredQuestions   int        `bun:"answered_questions,notnull"`
	CorrectAnswers      int        `bun:"correct_answers,notnull"`
	AverageResponseTime float64    `bun:"average_response_time,notnull"`
	JoinedAt            time.Time  `bun:"joined_at,notnull"`
	FinishedAt          *time.Time `bun:"finished_at"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:live_answers,alias:la"`

	ParticipantID string          `bun:"participant_id,pk"`
	QuestionID    string          `bun:"question_id,pk"`
	SessionID     string          `bun:"session_id,notnull"`
	Raw           json.RawMessage `bun:"raw,type:jsonb"`
	Skipped       bool            `bun:"skipped,notnull"`
	IsCorrect     bool            `bun:"is_correct,notnull"`
	Points        int             `bun:"points,notnull"`
	ResponseTime  float64         `bun:"response_time,notnull"`
	CreatedAt     time.Time       `bun:"created_at,notnull"`
}

func (s *SessionStore) CodeInUse(ctx context.Context, code string) (bool, error) {
	return s.db.NewSelect().
		Model((*sessionRow)(nil)).
		Where("code = ?", code).
		Where("code_expires_at > ?", s.clock()).
		Exists(ctx)
}

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// serialize creators of the same code for the rest of the transaction
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", session.Code); err != nil {
			return err
		}
		taken, err := tx.NewSelect().
			Model((*sessionRow)(nil)).
			Where("code = ?", session.Code).
			Where("code_expires_at > ?", s.clock()).
			Exists(ctx)
		if err != nil {
			return err
		}
		if taken {
			return domain.ErrCodeInUse
		}
		row := toSessionRow(session)
		_, err = tx.NewInsert().Model(&row).Exec(ctx)
		return err
	})
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return row.toDomain(), nil
}

func (s *SessionStore) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().
		Model(&row).
		Where("code = ?", code).
		Where("code_expires_at > ?", s.clock()).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return row.toDomain(), nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, session domain.Session) (domain.Session, error) {
	expected := session.Version
	session.Version++
	row := toSessionRow(session)
	res, err := s.db.NewUpdate().
		Model(&row).
		WherePK().
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Session{}, err
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, session.ID); err != nil {
			return domain.Session{}, err
		}
		return domain.Session{}, domain.ErrSessionConflict
	}
	return session, nil
}

func (s *SessionStore) ListOpenSessions(ctx context.Context) ([]domain.Session, error) {
	var rows []sessionRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("status <> ?", string(domain.SessionCompleted)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *SessionStore) JoinParticipant(ctx context.Context, candidate domain.Participant) (domain.Participant, bool, error) {
	var (
		result      domain.Participant
		reconnected bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var existing participantRow
		err := tx.NewSelect().
			Model(&existing).
			Where("session_id = ?", candidate.SessionID).
			Where("nickname = ?", candidate.Nickname).
			For("UPDATE").
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			row := toParticipantRow(candidate)
			if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
				return err
			}
			result = candidate
			return nil
		case err != nil:
			return err
		}

		if existing.Status != string(domain.ParticipantDisconnected) {
			return domain.ErrNicknameTaken
		}
		existing.ConnID = candidate.ConnID
		existing.Status = string(domain.ParticipantWaiting)
		if candidate.UserID != "" {
			existing.UserID = candidate.UserID
		}
		if _, err := tx.NewUpdate().
			Model(&existing).
			Column("conn_id", "status", "user_id").
			WherePK().
			Exec(ctx); err != nil {
			return err
		}
		result, reconnected = existing.toDomain(), true
		return nil
	})
	if isUniqueViolation(err) {
		// a concurrent join inserted the same nickname first
		return domain.Participant{}, false, domain.ErrNicknameTaken
	}
	if err != nil {
		return domain.Participant{}, false, err
	}
	return result, reconnected, nil
}

func (s *SessionStore) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	return getParticipant(ctx, s.db, id, false)
}

func getParticipant(ctx context.Context, db bun.IDB, id string, forUpdate bool) (domain.Participant, error) {
	var row participantRow
	q := db.NewSelect().Model(&row).Where("id = ?", id)
	if forUpdate {
		q = q.For("UPDATE")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, err
	}
	return row.toDomain(), nil
}

func (s *SessionStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	var rows []participantRow
	if err := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.Participant, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *SessionStore) DisconnectParticipant(ctx context.Context, id, connID string, clearConn bool) (domain.Participant, bool, error) {
	var row participantRow
	q := s.db.NewUpdate().
		Model(&row).
		Set("status = ?", string(domain.ParticipantDisconnected)).
		Where("id = ?", id).
		Where("conn_id = ?", connID).
		Returning("*")
	if clearConn {
		q = q.Set("conn_id = ''")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		p, err := s.GetParticipant(ctx, id)
		if err != nil {
			return domain.Participant{}, false, err
		}
		return p, false, nil
	}
	if err != nil {
		return domain.Participant{}, false, err
	}
	return row.toDomain(), true, nil
}

func (s *SessionStore) TransitionParticipants(ctx context.Context, sessionID string, from, to domain.ParticipantStatus, at time.Time) error {
	q := s.db.NewUpdate().
		Model((*participantRow)(nil)).
		Set("status = ?", string(to)).
		Where("session_id = ?", sessionID).
		Where("status = ?", string(from))
	if to == domain.ParticipantFinished {
		q = q.Set("finished_at = ?", at)
	}
	_, err := q.Exec(ctx)
	return err
}

func (s *SessionStore) HasAnswer(ctx context.Context, participantID, questionID string) (bool, error) {
	return s.db.NewSelect().
		Model((*answerRow)(nil)).
		Where("participant_id = ?", participantID).
		Where("question_id = ?", questionID).
		Exists(ctx)
}

func (s *SessionStore) RecordAnswer(ctx context.Context, answer domain.Answer) (domain.Participant, error) {
	var result domain.Participant
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		p, err := getParticipant(ctx, tx, answer.ParticipantID, true)
		if err != nil {
			return err
		}
		row := toAnswerRow(answer)
		res, err := tx.NewInsert().
			Model(&row).
			On("CONFLICT (participant_id, question_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return domain.ErrAlreadyAnswered
		}

		p.ApplyAnswer(answer)
		prow := toParticipantRow(p)
		if _, err := tx.NewUpdate().
			Model(&prow).
			Column("score", "answered_questions", "correct_answers", "average_response_time").
			WherePK().
			Exec(ctx); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return domain.Participant{}, err
	}
	return result, nil
}

func (s *SessionStore) ListAnswers(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	var rows []answerRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("session_id = ?", sessionID).
		Where("question_id = ?", questionID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Answer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

func toSessionRow(s domain.Session) sessionRow {
	return sessionRow{
		ID:                   s.ID,
		Code:                 s.Code,
		QuizID:               s.QuizID,
		HostID:               s.HostID,
		Status:               string(s.Status),
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		ShowLeaderboard:      s.ShowLeaderboard,
		QuestionStartedAt:    s.QuestionStartedAt,
		CreatedAt:            s.CreatedAt,
		StartedAt:            s.StartedAt,
		EndedAt:              s.EndedAt,
		UpdatedAt:            s.UpdatedAt,
		CodeExpiresAt:        s.CodeExpiresAt,
		Version:              s.Version,
	}
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:                   r.ID,
		Code:                 r.Code,
		QuizID:               r.QuizID,
		HostID:               r.HostID,
		Status:               domain.SessionStatus(r.Status),
		CurrentQuestionIndex: r.CurrentQuestionIndex,
		ShowLeaderboard:      r.ShowLeaderboard,
		QuestionStartedAt:    r.QuestionStartedAt,
		CreatedAt:            r.CreatedAt,
		StartedAt:            r.StartedAt,
		EndedAt:              r.EndedAt,
		UpdatedAt:            r.UpdatedAt,
		CodeExpiresAt:        r.CodeExpiresAt,
		Version:              r.Version,
	}
}

func toParticipantRow(p domain.Participant) participantRow {
	return participantRow{
		ID:                  p.ID,
		SessionID:           p.SessionID,
		UserID:              p.UserID,
		Nickname:            p.Nickname,
		ConnID:              p.ConnID,
		Status:              string(p.Status),
		Score:               p.Score,
		AnsweredQuestions:   p.AnsweredQuestions,
		CorrectAnswers:      p.CorrectAnswers,
		AverageResponseTime: p.AverageResponseTime,
		JoinedAt:            p.JoinedAt,
		FinishedAt:          p.FinishedAt,
	}
}

func (r participantRow) toDomain() domain.Participant {
	return domain.Participant{
		ID:                  r.ID,
		SessionID:           r.SessionID,
		UserID:              r.UserID,
		Nickname:            r.Nickname,
		ConnID:              r.ConnID,
		Status:              domain.ParticipantStatus(r.Status),
		Score:               r.Score,
		AnsweredQuestions:   r.AnsweredQuestions,
		CorrectAnswers:      r.CorrectAnswers,
		AverageResponseTime: r.AverageResponseTime,
		JoinedAt:            r.JoinedAt,
		FinishedAt:          r.FinishedAt,
	}
}

func toAnswerRow(a domain.Answer) answerRow {
	return answerRow{
		ParticipantID: a.ParticipantID,
		QuestionID:    a.QuestionID,
		SessionID:     a.SessionID,
		Raw:           a.Raw,
		Skipped:       a.Skipped,
		IsCorrect:     a.IsCorrect,
		Points:        a.Points,
		ResponseTime:  a.ResponseTime,
		CreatedAt:     a.CreatedAt,
	}
}

func (r answerRow) toDomain() domain.Answer {
	return domain.Answer{
		ParticipantID: r.ParticipantID,
		QuestionID:    r.QuestionID,
		SessionID:     r.SessionID,
		Raw:           r.Raw,
		Skipped:       r.Skipped,
		IsCorrect:     r.IsCorrect,
		Points:        r.Points,
		ResponseTime:  r.ResponseTime,
		CreatedAt:     r.CreatedAt,
	}
}
