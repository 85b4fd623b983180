package domain

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionWaiting   SessionStatus = "waiting"
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// ParticipantStatus is the presence state of a participant within a session.
type ParticipantStatus string

const (
	ParticipantWaiting      ParticipantStatus = "waiting"
	ParticipantActive       ParticipantStatus = "active"
	ParticipantDisconnected ParticipantStatus = "disconnected"
	ParticipantFinished     ParticipantStatus = "finished"
)

// QuestionType selects the comparison rule used to score an answer.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionShortAnswer    QuestionType = "short_answer"
)

// Identity is the authenticated caller attached to a connection.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Session is one live run of a quiz.
type Session struct {
	ID                   string        `json:"id"`
	Code                 string        `json:"code"`
	QuizID               string        `json:"quizId"`
	HostID               string        `json:"hostId"`
	Status               SessionStatus `json:"status"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	ShowLeaderboard      bool          `json:"showLeaderboard"`
	QuestionStartedAt    *time.Time    `json:"questionStartedAt,omitempty"`
	CreatedAt            time.Time     `json:"createdAt"`
	StartedAt            *time.Time    `json:"startedAt,omitempty"`
	EndedAt              *time.Time    `json:"endedAt,omitempty"`
	UpdatedAt            time.Time     `json:"updatedAt"`
	CodeExpiresAt        time.Time     `json:"codeExpiresAt"`
	// Version is bumped by every successful store update and used for compare-and-set.
	Version int64 `json:"version"`
}

// Joinable reports whether new participants may enter the session.
// Paused sessions are not joinable.
func (s Session) Joinable() bool {
	return s.Status == SessionWaiting || s.Status == SessionActive
}

// Participant is one quiz-taker's presence in a session.
type Participant struct {
	ID                  string            `json:"id"`
	SessionID           string            `json:"sessionId"`
	UserID              string            `json:"userId,omitempty"`
	Nickname            string            `json:"nickname"`
	ConnID              string            `json:"-"`
	Status              ParticipantStatus `json:"status"`
	Score               int               `json:"score"`
	AnsweredQuestions   int               `json:"answeredQuestions"`
	CorrectAnswers      int               `json:"correctAnswers"`
	AverageResponseTime float64           `json:"averageResponseTime"`
	JoinedAt            time.Time         `json:"joinedAt"`
	FinishedAt          *time.Time        `json:"finishedAt,omitempty"`
}

// ApplyAnswer folds one processed submission into the running totals.
// A skip only counts towards AnsweredQuestions.
func (p *Participant) ApplyAnswer(a Answer) {
	p.AnsweredQuestions++
	if a.Skipped {
		return
	}
	p.Score += a.Points
	if a.IsCorrect {
		p.CorrectAnswers++
	}
	n := float64(p.AnsweredQuestions)
	p.AverageResponseTime = (p.AverageResponseTime*(n-1) + a.ResponseTime) / n
}

// Answer is the immutable record of one participant's response to one question.
type Answer struct {
	ParticipantID string          `json:"participantId"`
	QuestionID    string          `json:"questionId"`
	SessionID     string          `json:"sessionId"`
	Raw           json.RawMessage `json:"answer"` // nil for a skip
	Skipped       bool            `json:"skipped"`
	IsCorrect     bool            `json:"isCorrect"`
	Points        int             `json:"points"`
	ResponseTime  float64         `json:"responseTime"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Question is a single quiz item including its answer key.
type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Options []string     `json:"options,omitempty"`
	// CorrectOption is the zero-based option index for multiple choice and true/false.
	CorrectOption   *int     `json:"correctOption,omitempty"`
	AcceptedAnswers []string `json:"acceptedAnswers,omitempty"`
	TimeLimit       int      `json:"timeLimit,omitempty"` // seconds
	Points          int      `json:"points"`              // defaults to 1 if zero
	Explanation     string   `json:"explanation,omitempty"`
	ImageRef        string   `json:"imageRef,omitempty"`
}

// CorrectAnswer returns the releasable form of the answer key.
func (q Question) CorrectAnswer() any {
	if q.Type == QuestionShortAnswer {
		return q.AcceptedAnswers
	}
	if q.CorrectOption == nil {
		return nil
	}
	return *q.CorrectOption
}

// Quiz is an ordered collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// QuestionByID returns the question with the given id.
func (q Quiz) QuestionByID(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// QuizDescriptor is the public summary of a quiz.
type QuizDescriptor struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	QuestionCount int    `json:"questionCount"`
}

// Describe returns the public summary of the quiz.
func (q Quiz) Describe() QuizDescriptor {
	return QuizDescriptor{ID: q.ID, Title: q.Title, QuestionCount: len(q.Questions)}
}

// QuestionView is the redacted form of a question sent to session members.
// It never carries the answer key or the explanation.
type QuestionView struct {
	ID        string       `json:"id"`
	Type      QuestionType `json:"type"`
	Prompt    string       `json:"prompt"`
	Options   []string     `json:"options,omitempty"`
	TimeLimit int          `json:"timeLimit"`
	Points    int          `json:"points"`
	ImageRef  string       `json:"imageRef,omitempty"`
	Position  int          `json:"position"` // 1-based
	Total     int          `json:"total"`
	StartedAt time.Time    `json:"startedAt"`
}

// LeaderboardEntry is one ranked row of a leaderboard.
type LeaderboardEntry struct {
	ParticipantID     string `json:"participantId"`
	Nickname          string `json:"nickname"`
	Score             int    `json:"score"`
	AnsweredQuestions int    `json:"answeredQuestions"`
	CorrectAnswers    int    `json:"correctAnswers"`
	Rank              int    `json:"rank"`
}

// Leaderboard captures the ordered scoreboard for a session.
type Leaderboard struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// QuestionStats summarizes the answers to one question.
type QuestionStats struct {
	QuestionID          string  `json:"questionId"`
	TotalAnswers        int     `json:"totalAnswers"`
	CorrectCount        int     `json:"correctCount"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	CorrectAnswer       any     `json:"correctAnswer"`
	Explanation         string  `json:"explanation,omitempty"`
}
