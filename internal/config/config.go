package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Oracle    OracleConfig
	Verify    VerifyConfig
	Render    RenderConfig
	Storage   StorageConfig
	Webhook   WebhookConfig
	RateLimit RateLimitConfig
	LogLevel  slog.Level
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	MaxUploadBytes int64
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string // empty uses the embedded migrations
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

type OracleConfig struct {
	URL     string
	Timeout time.Duration
}

type VerifyConfig struct {
	Threshold       float64 // max embedding distance accepted as a match
	Required        bool    // reject signing when no baseline matches
	ShortCircuit    bool    // stop at the first matching baseline
	EnrollThreshold float64 // threshold passed to the oracle when enrolling baselines
	MaxBaselines    int
	SigningLockTTL  time.Duration
}

type RenderConfig struct {
	VerifyBaseURL string // QR payload prefix, document id is appended
	QRSize        int
	Gap           float64
	Margin        float64
	DrawSignature bool
}

type StorageConfig struct {
	Backend     string // "local", "s3" or "supabase"
	Root        string
	PublicURL   string // overrides the request host when building file URLs
	Bucket      string
	SupabaseURL string
	SupabaseKey string
	S3Region    string
}

type WebhookConfig struct {
	SignwellSecret string
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Refill   int // tokens per second
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}
	maxUpload, err := getEnvInt("MAX_UPLOAD_MB", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB: %w", err)
	}
	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}
	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	tokenTTL, err := getEnvDuration("JWT_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL: %w", err)
	}
	bcryptCost, err := getEnvInt("BCRYPT_COST", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid BCRYPT_COST: %w", err)
	}
	oracleTimeout, err := getEnvDuration("ORACLE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid ORACLE_TIMEOUT: %w", err)
	}
	threshold, err := getEnvFloat("VERIFY_THRESHOLD", 0.8)
	if err != nil {
		return nil, fmt.Errorf("invalid VERIFY_THRESHOLD: %w", err)
	}
	enrollThreshold, err := getEnvFloat("ENROLL_THRESHOLD", 0.8)
	if err != nil {
		return nil, fmt.Errorf("invalid ENROLL_THRESHOLD: %w", err)
	}
	required, err := getEnvBool("VERIFY_REQUIRED", true)
	if err != nil {
		return nil, fmt.Errorf("invalid VERIFY_REQUIRED: %w", err)
	}
	shortCircuit, err := getEnvBool("VERIFY_SHORT_CIRCUIT", false)
	if err != nil {
		return nil, fmt.Errorf("invalid VERIFY_SHORT_CIRCUIT: %w", err)
	}
	lockTTL, err := getEnvDuration("SIGNING_LOCK_TTL", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SIGNING_LOCK_TTL: %w", err)
	}
	qrSize, err := getEnvInt("QR_SIZE", 96)
	if err != nil {
		return nil, fmt.Errorf("invalid QR_SIZE: %w", err)
	}
	drawSig, err := getEnvBool("RENDER_DRAW_SIGNATURE", false)
	if err != nil {
		return nil, fmt.Errorf("invalid RENDER_DRAW_SIGNATURE: %w", err)
	}
	rlEnabled, err := getEnvBool("RATE_LIMIT_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_ENABLED: %w", err)
	}
	rlCapacity, err := getEnvInt("RATE_LIMIT_CAPACITY", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_CAPACITY: %w", err)
	}
	rlRefill, err := getEnvInt("RATE_LIMIT_REFILL", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			AllowedOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
			MaxUploadBytes: int64(maxUpload) << 20,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			TokenTTL:   tokenTTL,
			BcryptCost: bcryptCost,
		},
		Oracle: OracleConfig{
			URL:     strings.TrimRight(getEnv("ORACLE_URL", getEnv("FLASK_URL", "http://localhost:5000")), "/"),
			Timeout: oracleTimeout,
		},
		Verify: VerifyConfig{
			Threshold:       threshold,
			Required:        required,
			ShortCircuit:    shortCircuit,
			EnrollThreshold: enrollThreshold,
			MaxBaselines:    5,
			SigningLockTTL:  lockTTL,
		},
		Render: RenderConfig{
			VerifyBaseURL: strings.TrimRight(getEnv("PUBLIC_VERIFY_BASE_URL", fmt.Sprintf("http://localhost:%d/api/v1/requests/public", port)), "/"),
			QRSize:        qrSize,
			Gap:           8,
			Margin:        16,
			DrawSignature: drawSig,
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "local"),
			Root:        getEnv("STORAGE_ROOT", "uploads"),
			PublicURL:   strings.TrimRight(getEnv("STORAGE_PUBLIC_URL", ""), "/"),
			Bucket:      getEnv("STORAGE_BUCKET", "esignature"),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			S3Region:    getEnv("AWS_REGION", "us-east-1"),
		},
		Webhook: WebhookConfig{
			SignwellSecret: getEnv("SIGNWELL_WEBHOOK_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:  rlEnabled,
			Capacity: rlCapacity,
			Refill:   rlRefill,
		},
		LogLevel: level,
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Storage.Backend == "supabase" && (c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "") {
		missing = append(missing, "SUPABASE_URL/SUPABASE_SERVICE_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.Verify.Threshold <= 0 {
		return fmt.Errorf("VERIFY_THRESHOLD must be positive")
	}
	if c.Render.QRSize <= 0 {
		return fmt.Errorf("QR_SIZE must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
