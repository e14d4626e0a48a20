package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/esignature/internal/config"
	"github.com/nikhilbhutani/esignature/internal/database"
	"github.com/nikhilbhutani/esignature/internal/queue"
	"github.com/nikhilbhutani/esignature/internal/queue/workers"
	"github.com/nikhilbhutani/esignature/internal/repository/postgres"
	"github.com/nikhilbhutani/esignature/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx := context.Background()
	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := postgres.NewStore(db)

	srv := queue.NewServer(cfg.Redis, 10, newAsynqLogger(logger))

	webhookWorker := workers.NewWebhookWorker(webhook.NewDispatcher(store.Webhooks, 15*time.Second))
	srv.Register(queue.TypeWebhookDeliver, asynq.HandlerFunc(webhookWorker.ProcessTask))

	if err := srv.Run(); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
