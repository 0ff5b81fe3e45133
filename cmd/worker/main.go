package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/safebrowse/internal/config"
	"github.com/nikhilbhutani/safebrowse/internal/logging"
	"github.com/nikhilbhutani/safebrowse/internal/notify"
)

// The worker drains queued parent alerts when ALERT_QUEUE_MODE=asynq.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Log)
	defer logCloser.Close()
	slog.SetDefault(logger)

	if cfg.Alerts.WebhookURL == "" {
		slog.Error("ALERT_WEBHOOK_URL is required for the alert worker")
		os.Exit(1)
	}

	dispatcher := notify.NewDispatcher(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookSecret, logger)
	defer dispatcher.Close()

	worker := notify.NewWorker(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, dispatcher, logger)

	slog.Info("starting alert worker", "redis", cfg.Redis.Addr)
	if err := worker.Start(); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	worker.Shutdown()
}
