package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration for the quiz engine.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"quiz-session-engine"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:4001"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Postgres Postgres
	Redis    Redis
	Quiz     Quiz
}

// Postgres captures connection info for the score ledger database.
type Postgres struct {
	Host     string `env:"PG_HOST,notEmpty"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER,notEmpty"`
	Password string `env:"PG_PASSWORD,notEmpty"`
	Database string `env:"PG_DATABASE,notEmpty"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
}

// Redis holds session state store configuration.
type Redis struct {
	Addr     string `env:"REDIS_ADDR,notEmpty"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// Quiz groups gameplay timing defaults.
type Quiz struct {
	SessionTTL          time.Duration `env:"SESSION_STATE_TTL" envDefault:"24h"`
	TickPeriod          time.Duration `env:"TIMER_TICK_PERIOD" envDefault:"100ms"`
	CountdownDuration   time.Duration `env:"START_COUNTDOWN_DURATION" envDefault:"4s"`
	DefaultReadingTime  time.Duration `env:"DEFAULT_READING_TIME" envDefault:"5s"`
	DefaultQuizTime     time.Duration `env:"DEFAULT_QUIZ_TIME" envDefault:"10s"`
	LedgerRetryAttempts uint64        `env:"LEDGER_RETRY_ATTEMPTS" envDefault:"3"`
	LedgerRetryBackoff  time.Duration `env:"LEDGER_RETRY_BACKOFF" envDefault:"250ms"`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
