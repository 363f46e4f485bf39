package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/app"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	if os.Getenv("APP_ENV") != "production" {
		// Missing .env is fine; containers inject real env vars.
		_ = godotenv.Load("configs/.env")
	}

	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.Load(loadCtx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	instance, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap application: %w", err)
	}

	return instance.Run(ctx)
}
