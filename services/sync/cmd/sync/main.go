package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"bioquest/internal/ratelimit"
	"bioquest/internal/util"
	"bioquest/services/sync/internal/app"
	"bioquest/services/sync/internal/config"
	"bioquest/services/sync/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:        cfg.DatabaseURL,
		RedisAddr:          cfg.RedisAddr,
		RedisPassword:      cfg.RedisPassword,
		RabbitURL:          cfg.RabbitURL,
		RabbitQueue:        cfg.RabbitQueue,
		INatBaseURL:        cfg.INatBaseURL,
		LeaderboardEnabled: cfg.LeaderboardEnabled,
	}, logger)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RequestsPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "bioquest:ratelimit:sync",
			cfg.RequestsPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	httpServer := server.New(server.Config{
		App:     appCore,
		Limiter: limiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// sync rounds ride out upstream backoff, so responses can take
		// minutes
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("sync server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
