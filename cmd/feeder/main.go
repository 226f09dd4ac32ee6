package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"feeder/internal/app"
	"feeder/internal/config"
	"feeder/internal/logger"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ %v", err)
	}

	logger := logger.NewLogger(cfg)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to start feeder: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, config.ErrConfiguration) {
			logger.Error("Start-up failed: %v", err)
			os.Exit(2)
		}
		logger.Error("Feeder stopped: %v", err)
		os.Exit(1)
	}
}
