package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/broadcast"
	"live-quiz-service/internal/domain"
	pgstore "live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
	infraredis "live-quiz-service/internal/infra/redis"
)

var quizHost = &domain.Identity{ID: "host-1", Role: "host"}

func TestLiveSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := migrateDB(t, ctx, pgURL)
	defer db.Close()

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgstore.NewQuizLoader(pool)
	if err := loader.SaveQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("save quiz: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()
	quizRepo := infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute)

	stores := map[string]app.Store{
		"postgres": pgstore.NewSessionStore(db),
		"redis":    infraredis.NewSessionStore(redisClient, time.Hour),
	}
	for name, store := range stores {
		store := store
		t.Run(name, func(t *testing.T) {
			runLiveFlow(t, ctx, store, quizRepo)
			runAnswerRace(t, ctx, store, quizRepo)
		})
	}
}

func runLiveFlow(t *testing.T, ctx context.Context, store app.Store, quizzes app.QuizRepository) {
	hub := broadcast.NewHub(nil)
	service := app.NewLiveService(store, quizzes, hub, app.Options{})
	for _, id := range []string{"host", "alice", "bob"} {
		hub.Register(id, broadcast.NewChannelSink(64))
	}

	session, err := service.CreateSession(ctx, "host", quizHost, "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	alice, err := service.Join(ctx, "alice", nil, session.Code, "Alice")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if _, err := service.Join(ctx, "bob", nil, session.Code, "Bob"); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if _, err := service.Join(ctx, "mallory", nil, session.Code, "Alice"); !errors.Is(err, domain.ErrNicknameTaken) {
		t.Fatalf("duplicate nickname: got %v", err)
	}
	if _, err := service.Start(ctx, quizHost, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	result, err := service.SubmitAnswer(ctx, "bob", app.Submission{QuestionID: "q1", Answer: json.RawMessage(`1`), ResponseTime: 6})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Correct || result.Awarded != 14 || result.TotalScore != 14 {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := service.SubmitAnswer(ctx, "bob", app.Submission{QuestionID: "q1", Answer: json.RawMessage(`1`)}); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("second submit: got %v", err)
	}
	if _, err := service.SkipQuestion(ctx, "alice", 3); err != nil {
		t.Fatalf("skip: %v", err)
	}

	if err := service.HandleDisconnect(ctx, "alice"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	hub.Register("alice-2", broadcast.NewChannelSink(64))
	again, err := service.Join(ctx, "alice-2", nil, session.Code, "Alice")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.ID != alice.ID || again.AnsweredQuestions != 1 {
		t.Fatalf("rejoin did not reclaim history: %+v", again)
	}

	shown, err := service.ToggleResultsVisibility(ctx, quizHost, session.ID, true)
	if err != nil || !shown.ShowLeaderboard {
		t.Fatalf("toggle results: %v", err)
	}
	ended, err := service.End(ctx, quizHost, session.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != domain.SessionCompleted {
		t.Fatalf("status = %s", ended.Status)
	}

	lb, err := service.Leaderboard(ctx, session.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 2 || lb.Entries[0].Nickname != "Bob" || lb.Entries[0].Score != 14 {
		t.Fatalf("expected bob leading, got %+v", lb.Entries)
	}
}

// runAnswerRace submits the same question from many goroutines bound to one
// participant; exactly one submission may be scored.
func runAnswerRace(t *testing.T, ctx context.Context, store app.Store, quizzes app.QuizRepository) {
	hub := broadcast.NewHub(nil)
	service := app.NewLiveService(store, quizzes, hub, app.Options{})
	session, err := service.CreateSession(ctx, "", quizHost, "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	p, err := service.Join(ctx, "racer", nil, session.Code, "Racer")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := service.Start(ctx, quizHost, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.SubmitAnswer(ctx, "racer", app.Submission{QuestionID: "q1", Answer: json.RawMessage(`1`)})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrAlreadyAnswered) {
				t.Errorf("submit: %v", err)
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("accepted %d submissions, want 1", accepted)
	}
	stored, err := store.GetParticipant(ctx, p.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if stored.AnsweredQuestions != 1 || stored.Score != 15 {
		t.Fatalf("participant totals %+v", stored)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

// migrateDB applies every migration and returns the open bun handle.
func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleQuiz() domain.Quiz {
	correct := 1
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:            "q1",
				Type:          domain.QuestionMultipleChoice,
				Prompt:        "What is 2 + 2?",
				Options:       []string{"3", "4", "5"},
				CorrectOption: &correct,
				TimeLimit:     30,
				Points:        10,
			},
			{
				ID:              "q2",
				Type:            domain.QuestionShortAnswer,
				Prompt:          "Name the Go mascot.",
				AcceptedAnswers: []string{"gopher"},
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
