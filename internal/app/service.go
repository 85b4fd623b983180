package app

import (
	"context"
	"log/slog"
	"time"

	"live-quiz-service/internal/domain"
)

// Options tunes the live session engine. Zero values fall back to defaults.
type Options struct {
	CodeLength       int
	CodeTTL          time.Duration
	CodeAttempts     int
	LeaderboardSize  int
	DefaultTimeLimit time.Duration

	// ServerTiming raises client-reported response times to the time the
	// server observed since the question was broadcast.
	ServerTiming bool
	Logger       *slog.Logger
	Publisher    EventPublisher
	Clock        func() time.Time
}

const (
	defaultCodeLength       = 6
	defaultCodeTTL          = 24 * time.Hour
	defaultCodeAttempts     = 10
	defaultLeaderboardSize  = 10
	defaultQuestionDuration = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.CodeLength <= 0 {
		o.CodeLength = defaultCodeLength
	}
	if o.CodeTTL <= 0 {
		o.CodeTTL = defaultCodeTTL
	}
	if o.CodeAttempts <= 0 {
		o.CodeAttempts = defaultCodeAttempts
	}
	if o.LeaderboardSize <= 0 {
		o.LeaderboardSize = defaultLeaderboardSize
	}
	if o.DefaultTimeLimit <= 0 {
		o.DefaultTimeLimit = defaultQuestionDuration
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Publisher == nil {
		o.Publisher = noopPublisher{}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// LiveService coordinates live sessions: host control, participant
// presence, scoring and leaderboard broadcast.
type LiveService struct {
	store     Store
	quizzes   QuizRepository
	broadcast Broadcaster
	registry  *Registry
	codes     *CodeGenerator
	publisher EventPublisher
	log       *slog.Logger
	now       func() time.Time
	opts      Options
}

func NewLiveService(store Store, quizzes QuizRepository, broadcaster Broadcaster, opts Options) *LiveService {
	opts = opts.withDefaults()
	return &LiveService{
		store:     store,
		quizzes:   quizzes,
		broadcast: broadcaster,
		registry:  NewRegistry(),
		codes:     NewCodeGenerator(store, opts.CodeLength, opts.CodeAttempts),
		publisher: opts.Publisher,
		log:       opts.Logger,
		now:       opts.Clock,
		opts:      opts,
	}
}

// Registry exposes the connection binding table.
func (s *LiveService) Registry() *Registry {
	return s.registry
}

func (s *LiveService) loadSession(ctx context.Context, sessionID string) (domain.Session, domain.Quiz, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, domain.Quiz{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Session{}, domain.Quiz{}, err
	}
	return session, quiz, nil
}

func (s *LiveService) publishLifecycle(ctx context.Context, ev domain.SessionEvent) {
	if err := s.publisher.PublishSessionEvent(ctx, ev); err != nil {
		s.log.Warn("publish session event failed",
			slog.String("event", ev.Name),
			slog.String("session_id", ev.SessionID),
			slog.Any("error", err))
	}
}
