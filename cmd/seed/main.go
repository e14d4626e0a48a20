// Command seed creates the first admin account when it does not exist yet.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/nikhilbhutani/esignature/internal/auth"
	"github.com/nikhilbhutani/esignature/internal/config"
	"github.com/nikhilbhutani/esignature/internal/database"
	"github.com/nikhilbhutani/esignature/internal/identity"
	"github.com/nikhilbhutani/esignature/internal/repository/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	admin := identity.RegisterInput{
		Name:     envOr("SEED_ADMIN_NAME", "Administrator"),
		Email:    os.Getenv("SEED_ADMIN_EMAIL"),
		Password: os.Getenv("SEED_ADMIN_PASSWORD"),
	}
	if admin.Email == "" || admin.Password == "" {
		slog.Error("SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD are required")
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

	store := postgres.NewStore(db)
	svc := identity.NewService(store.Users, auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), cfg.Auth.BcryptCost)

	created, err := svc.EnsureAdmin(ctx, admin)
	if err != nil {
		slog.Error("seeding admin failed", "error", err)
		os.Exit(1)
	}
	if created {
		slog.Info("admin account created", "email", admin.Email)
	} else {
		slog.Info("admin account already exists", "email", admin.Email)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
