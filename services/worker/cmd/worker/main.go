package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"bioquest/internal/util"
	"bioquest/services/worker/internal/app"
	"bioquest/services/worker/internal/config"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	worker, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		RabbitURL:     cfg.RabbitURL,
		RabbitQueue:   cfg.RabbitQueue,
		INatBaseURL:   cfg.INatBaseURL,
		SweepInterval: time.Duration(cfg.SweepIntervalSeconds) * time.Second,
	}, logger)
	if err != nil {
		log.Fatalf("failed to init worker: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker running", "sweepInterval", cfg.SweepIntervalSeconds)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker error", "err", err)
	}
}
