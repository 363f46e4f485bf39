package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/config"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/db/repository"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/logging"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/metrics"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/quiz"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/score"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/server"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/pkg/ws"
)

// Application aggregates shared infrastructure (DB, cache, HTTP server)
// and the quiz engine.
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	http  *http.Server

	hub    *ws.Hub
	timers *quiz.TimerScheduler
}

// New bootstraps config, logger, Postgres, Redis and the engine stack.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env)
	logger.Info().Msg("starting application bootstrap")

	connString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=10",
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.Database, cfg.Postgres.SSLMode)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mets := metrics.New(registry)

	scoreRepo := repository.NewScoreRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	studentRepo := repository.NewStudentRepository(pool)

	ledger := score.NewWriter(scoreRepo, score.WriterOptions{
		MaxRetries: cfg.Quiz.LedgerRetryAttempts,
		Backoff:    cfg.Quiz.LedgerRetryBackoff,
	}, mets, logger)

	sessionStore := quiz.NewSessionStore(
		redisClient,
		cfg.Quiz.SessionTTL,
		int(cfg.Quiz.DefaultReadingTime.Milliseconds()),
		int(cfg.Quiz.DefaultQuizTime.Milliseconds()),
		logger,
	)
	timers := quiz.NewTimerScheduler(cfg.Quiz.TickPeriod, logger)
	hub := ws.NewHub(logger)

	engine := quiz.NewEngine(
		sessionStore,
		timers,
		hub,
		ledger,
		studentRepo,
		questionRepo,
		quiz.EngineOptions{CountdownDuration: cfg.Quiz.CountdownDuration},
		mets,
		logger,
	)

	wsHandler := quiz.NewHandler(engine, hub, mets, logger)
	apiServer := server.NewHTTPServer(cfg, logger, pool, redisClient, registry, wsHandler.HandleWebSocket)

	return &Application{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		redis:  redisClient,
		http:   apiServer,
		hub:    hub,
		timers: timers,
	}, nil
}

// Run starts the listener and blocks until a termination signal, then
// notifies every open connection, stops timers and releases resources.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("quiz engine listening")
		if err := a.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		a.logger.Warn().Msg("context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
	defer cancel()

	a.hub.Shutdown(ws.NewMessage(ws.EventServerShutdown, ws.ShutdownPayload{
		Message: "server shutting down",
	}))
	a.timers.StopAll()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("http shutdown error")
	}

	a.pool.Close()
	if err := a.redis.Close(); err != nil {
		a.logger.Error().Err(err).Msg("redis shutdown error")
	}

	a.logger.Info().Msg("shutdown complete")
	return nil
}
