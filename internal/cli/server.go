package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"testprep-attempt-service/internal/app"
	"testprep-attempt-service/internal/config"
	"testprep-attempt-service/internal/domain"
	"testprep-attempt-service/internal/infra/memory"
	pgstore "testprep-attempt-service/internal/infra/postgres"
	redisinfra "testprep-attempt-service/internal/infra/redis"
	transport "testprep-attempt-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt server",
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

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.TestLoader = memory.NewStaticTestLoader(sampleTests())
	if pool != nil {
		loader = pgstore.NewTestLoader(pool)
	}

	testTTL := config.TTLDuration(cfg.Tests.TTL, 10*time.Minute)
	var tests app.TestRepository
	if redisClient != nil {
		tests = redisinfra.NewTestRepository(redisClient, loader, testTTL)
	} else {
		tests = memory.NewTestRepository(loader, testTTL)
	}

	var attempts app.AttemptStore = memory.NewAttemptStore()
	if pool != nil {
		attempts = pgstore.NewAttemptStore(pool)
	}

	var lbStore app.LeaderboardStore = memory.NewLeaderboardStore()
	if redisClient != nil {
		lbStore = redisinfra.NewLeaderboardStore(redisClient)
	}
	leaderboard := app.NewLeaderboardAggregator(lbStore)

	// Payment/entitlement verdicts come from the surrounding platform; the
	// open-access checker stands in for it here.
	access := memory.NewAllowAllAccess()

	hub := transport.NewWatchHub()
	service := app.NewAttemptService(tests, attempts, access, leaderboard, hub)
	handler := transport.NewHandler(service, leaderboard)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)
	mux.HandleFunc("/ws/watch", hub.ServeWatch)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting attempt service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleTests provides minimal catalog data; the Postgres loader replaces
// this in production.
func sampleTests() map[string]domain.TestDefinition {
	return map[string]domain.TestDefinition{
		"test-1": {
			ID:               "test-1",
			SubjectID:        "math",
			DurationMinutes:  30,
			PassingThreshold: 50,
			Questions: []domain.QuestionRef{
				{ID: "q1", Kind: domain.QuestionChoice, CorrectAnswer: "A", Marks: 1},
				{ID: "q2", Kind: domain.QuestionChoice, CorrectAnswer: "B", Marks: 1},
			},
			AllowMultipleAttempts: true,
		},
	}
}
