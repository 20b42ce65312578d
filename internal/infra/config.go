package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	DatabaseURL   string
	JWTSecret     string
	PublicBaseURL string

	WorkerBaseURL        string
	WorkerAPIKey         string
	WorkerCallbackSecret string
	WorkerTimeout        time.Duration
	WorkerHealthTTL      time.Duration

	StorageDriver         string
	StoragePath           string
	StorageBaseURL        string
	StagingBucket         string
	LibraryBucket         string
	GCSCredentialsFile    string
	SignedURLTTL          time.Duration
	SignedURLSafetyMargin time.Duration

	RedisAddr          string
	RedisChannelPrefix string

	GeoIPDBPath    string
	AllowedOrigins []string
	DefaultLocale  string

	StagingTTL      time.Duration
	CleanupInterval time.Duration
	CleanupGrace    time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          port,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),

		WorkerBaseURL:        strings.TrimRight(os.Getenv("WORKER_BASE_URL"), "/"),
		WorkerAPIKey:         os.Getenv("WORKER_API_KEY"),
		WorkerCallbackSecret: os.Getenv("WORKER_CALLBACK_SECRET"),
		WorkerTimeout:        getEnvDuration("WORKER_TIMEOUT", 30*time.Second),
		WorkerHealthTTL:      getEnvDuration("WORKER_HEALTH_TTL", 30*time.Second),

		StorageDriver:         strings.ToLower(getEnv("STORAGE_DRIVER", "filesystem")),
		StoragePath:           getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:        strings.TrimRight(getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/files"), "/"),
		StagingBucket:         getEnv("STAGING_BUCKET", "workspace-staging"),
		LibraryBucket:         getEnv("LIBRARY_BUCKET", "workspace-library"),
		GCSCredentialsFile:    os.Getenv("GCS_CREDENTIALS_FILE"),
		SignedURLTTL:          getEnvDuration("SIGNED_URL_TTL", time.Hour),
		SignedURLSafetyMargin: getEnvDuration("SIGNED_URL_SAFETY_MARGIN", 5*time.Minute),

		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "job-status"),

		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		DefaultLocale:  getEnv("DEFAULT_LOCALE", "en"),

		StagingTTL:      getEnvDuration("STAGING_TTL", 24*time.Hour),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", time.Minute),
		CleanupGrace:    getEnvDuration("CLEANUP_GRACE", time.Hour),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	// Development may run on the in-memory store.
	if cfg.DatabaseURL == "" && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.WorkerCallbackSecret == "" {
		cfg.WorkerCallbackSecret = cfg.JWTSecret
	}
	switch cfg.StorageDriver {
	case "filesystem", "gcs":
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER %q is not supported", cfg.StorageDriver)
	}
	if cfg.SignedURLSafetyMargin >= cfg.SignedURLTTL {
		return nil, fmt.Errorf("SIGNED_URL_SAFETY_MARGIN must be shorter than SIGNED_URL_TTL")
	}

	return cfg, nil
}

// IsDevelopment reports whether APP_ENV is development.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
