package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/esignature/internal/api"
	"github.com/nikhilbhutani/esignature/internal/api/handlers"
	"github.com/nikhilbhutani/esignature/internal/audit"
	"github.com/nikhilbhutani/esignature/internal/auth"
	"github.com/nikhilbhutani/esignature/internal/baseline"
	"github.com/nikhilbhutani/esignature/internal/cache"
	"github.com/nikhilbhutani/esignature/internal/config"
	"github.com/nikhilbhutani/esignature/internal/database"
	"github.com/nikhilbhutani/esignature/internal/document"
	"github.com/nikhilbhutani/esignature/internal/identity"
	"github.com/nikhilbhutani/esignature/internal/lifecycle"
	"github.com/nikhilbhutani/esignature/internal/oracle"
	"github.com/nikhilbhutani/esignature/internal/queue"
	"github.com/nikhilbhutani/esignature/internal/render"
	"github.com/nikhilbhutani/esignature/internal/repository/postgres"
	"github.com/nikhilbhutani/esignature/internal/signing"
	"github.com/nikhilbhutani/esignature/internal/signrequest"
	"github.com/nikhilbhutani/esignature/internal/storage"
	"github.com/nikhilbhutani/esignature/internal/verification"
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

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, database.MigrationSource(cfg.Database.MigrationsPath)); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	// Redis connection (optional)
	var rdb *redis.Client
	var locks cache.Locker = cache.NewLocalLocker()
	if client, err := cache.NewClient(ctx, cfg.Redis); err != nil {
		slog.Warn("redis unavailable, using in-process locks and no cache", "error", err)
	} else {
		rdb = client
		defer rdb.Close()
		locks = cache.NewRedisLocker(rdb)
	}

	files, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		slog.Error("storage unavailable", "error", err)
		os.Exit(1)
	}

	store := postgres.NewStore(db)

	// Webhook deliveries go through the worker when Redis is up, otherwise
	// they run in this process.
	var enqueuer webhook.Enqueuer
	if rdb != nil {
		qc := queue.NewClient(cfg.Redis)
		defer qc.Close()
		enqueuer = qc
	} else {
		dispatcher := webhook.NewDispatcher(store.Webhooks, 10*time.Second)
		dispatcher.Start(100)
		defer dispatcher.Close()
		enqueuer = dispatcher
	}
	webhooks := webhook.NewService(store.Webhooks, enqueuer)

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	oracleClient := oracle.NewClient(cfg.Oracle.URL, cfg.Oracle.Timeout)
	manager := lifecycle.NewManager(store)

	reqOpts := []signrequest.Option{signrequest.WithNotifier(webhooks)}
	if rdb != nil {
		reqOpts = append(reqOpts, signrequest.WithCache(cache.NewCache(rdb, "esign:"), 5*time.Minute))
	}
	requests := signrequest.NewService(store, manager, reqOpts...)

	baselines := baseline.NewService(store.Baselines, files, oracleClient, locks, cfg.Verify)
	signer := signing.NewService(signing.Deps{
		Store:     store,
		Files:     files,
		Engine:    verification.NewEngine(oracleClient, store.Logs, cfg.Verify),
		Renderer:  render.NewRenderer(files, cfg.Render),
		Lifecycle: manager,
		Images:    baselines,
		Locks:     locks,
		LockTTL:   cfg.Verify.SigningLockTTL,
	}, signing.WithInvalidator(requests), signing.WithNotifier(webhooks))

	deps := api.Deps{
		Tokens:    tokens,
		Users:     store.Users,
		Identity:  identity.NewService(store.Users, tokens, cfg.Auth.BcryptCost),
		Documents: document.NewService(store.Documents, files),
		Baselines: baselines,
		Requests:  requests,
		Signing:   signer,
		Audit:     audit.NewService(store.Logs),
		Webhooks:  webhooks,
		Inbound:   webhook.NewInbound(cfg.Webhook.SignwellSecret, manager, requests),
		Checks: map[string]handlers.Check{
			"database": db.Ping,
		},
		Redis: rdb,
	}
	if rdb != nil {
		deps.Checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if local, ok := files.(*storage.Local); ok {
		deps.FilesRoot = local.Root()
	}

	router := api.NewRouter(cfg, deps)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "storage", cfg.Storage.Backend, "verify_required", cfg.Verify.Required)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
