package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v10"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

type dbConfig struct {
	Host     string `env:"PG_HOST" envDefault:"localhost"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER,notEmpty"`
	Password string `env:"PG_PASSWORD,notEmpty"`
	Database string `env:"PG_DATABASE,notEmpty"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
}

func main() {
	command := flag.String("command", "up", "migration command: up, up-by-one, down, status")
	dir := flag.String("dir", "db/migrations", "directory containing migration files")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load("configs/.env")
	}

	var cfg dbConfig
	if err := env.Parse(&cfg); err != nil {
		logger.Fatal().Err(err).Msg("database configuration incomplete")
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Str("host", cfg.Host).Int("port", cfg.Port).Msg("database unreachable")
	}

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatal().Err(err).Msg("set goose dialect")
	}

	var run func(*sql.DB, string, ...goose.OptionsFunc) error
	switch *command {
	case "up":
		run = goose.Up
	case "up-by-one":
		run = goose.UpByOne
	case "down":
		run = goose.Down
	case "status":
		run = goose.Status
	default:
		logger.Fatal().Str("command", *command).Msg("unknown command, use up, up-by-one, down or status")
	}

	if err := run(db, *dir); err != nil {
		logger.Fatal().Err(err).Str("command", *command).Msg("migration command failed")
	}
	logger.Info().Str("command", *command).Str("dir", *dir).Msg("migration command complete")
}
