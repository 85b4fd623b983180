package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/broadcast"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	pgstore "live-quiz-service/internal/infra/postgres"
	"live-quiz-service/internal/infra/rabbitmq"
	redisstore "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg, os.Stderr)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var checks []transport.ReadinessCheck

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		checks = append(checks, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		db = openBun(cfg.Postgres.URL)
		defer db.Close()
		if err := migrateDB(ctx, db, log); err != nil {
			return err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		checks = append(checks, func(ctx context.Context) error { return db.PingContext(ctx) })
	}

	loader, err := quizLoader(cfg, pool)
	if err != nil {
		return err
	}
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	// postgres is the durable store when configured, then redis, then memory
	var store app.Store
	switch {
	case db != nil:
		store = pgstore.NewSessionStore(db)
	case redisClient != nil:
		store = redisstore.NewSessionStore(redisClient, redisTTL)
	default:
		store = memory.NewSessionStore()
	}

	hub := broadcast.NewHub(log)
	var broadcaster app.Broadcaster = hub
	if redisClient != nil && cfg.Redis.Relay {
		relay := broadcast.NewRedisRelay(hub, redisClient, cfg.Redis.RelayChannel, log)
		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("start redis relay: %w", err)
		}
		defer relay.Close()
		broadcaster = relay
	}

	publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty, every connection is anonymous and no one can host")
	}

	service := app.NewLiveService(store, quizRepo, broadcaster, app.Options{
		CodeLength:       cfg.Live.CodeLength,
		CodeTTL:          config.TTLDuration(cfg.Live.CodeTTL, 0),
		CodeAttempts:     cfg.Live.CodeAttempts,
		LeaderboardSize:  cfg.Live.LeaderboardSize,
		DefaultTimeLimit: config.TTLDuration(cfg.Live.DefaultTimeLimit, 0),
		ServerTiming:     !cfg.TrustClientTiming(),
		Logger:           log,
		Publisher:        publisher,
	})

	sweeper := app.NewSweeper(service,
		config.TTLDuration(cfg.Sweep.Interval, time.Minute),
		config.TTLDuration(cfg.Sweep.StaleAfter, 2*time.Hour))
	go sweeper.Run(ctx)

	wsHandler := transport.NewWSHandler(service, auth.NewGate(cfg.Auth.JWTSecret), hub, log)
	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(wsHandler, checks...),
		ReadTimeout: config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		// websocket connections outlive any write timeout; the handler sets
		// per-frame deadlines instead
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 0),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting live quiz service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		log.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func quizLoader(cfg config.Config, pool *pgxpool.Pool) (memory.QuizLoader, error) {
	if pool != nil {
		return pgstore.NewQuizLoader(pool), nil
	}
	if cfg.Quiz.File != "" {
		quizzes, err := memory.LoadQuizFile(cfg.Quiz.File)
		if err != nil {
			return nil, err
		}
		return memory.NewStaticQuizLoader(quizzes), nil
	}
	return memory.NewStaticQuizLoader(sampleQuizzes()), nil
}

// sampleQuizzes lets the server run with no backing store configured.
func sampleQuizzes() map[string]domain.Quiz {
	second, yes := 1, 0
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:            "q1",
					Type:          domain.QuestionMultipleChoice,
					Prompt:        "What is 2 + 2?",
					Options:       []string{"3", "4", "5"},
					CorrectOption: &second,
					TimeLimit:     20,
					Points:        10,
				},
				{
					ID:            "q2",
					Type:          domain.QuestionTrueFalse,
					Prompt:        "The Go gopher is blue.",
					Options:       []string{"True", "False"},
					CorrectOption: &yes,
					Points:        5,
				},
				{
					ID:              "q3",
					Type:            domain.QuestionShortAnswer,
					Prompt:          "Name the keyword that starts a goroutine.",
					AcceptedAnswers: []string{"go"},
					Points:          10,
					Explanation:     "The go statement runs a call in a new goroutine.",
				},
			},
		},
	}
}
