package infra

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadConfigDefaultStorageBaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:8080/files"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
	if cfg.WorkerCallbackSecret != "test-secret" {
		t.Fatalf("WorkerCallbackSecret should fall back to JWT_SECRET, got %q", cfg.WorkerCallbackSecret)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("PUBLIC_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:1919/files" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
	if cfg.PublicBaseURL != "http://localhost:1919" {
		t.Fatalf("PublicBaseURL mismatch: got %q", cfg.PublicBaseURL)
	}
}

func TestLoadConfigDurations(t *testing.T) {
	setRequired(t)
	t.Setenv("STAGING_TTL", "2h")
	t.Setenv("CLEANUP_INTERVAL", "bogus")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StagingTTL != 2*time.Hour {
		t.Fatalf("StagingTTL = %s, want 2h", cfg.StagingTTL)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Fatalf("CleanupInterval = %s, want fallback 1m", cfg.CleanupInterval)
	}
}

func TestLoadConfigRejectsSafetyMarginLongerThanTTL(t *testing.T) {
	setRequired(t)
	t.Setenv("SIGNED_URL_TTL", "1m")
	t.Setenv("SIGNED_URL_SAFETY_MARGIN", "2m")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for safety margin >= ttl")
	}
}

func TestLoadConfigRejectsUnknownStorageDriver(t *testing.T) {
	setRequired(t)
	t.Setenv("STORAGE_DRIVER", "s3")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for unsupported storage driver")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" https://a.example , ,https://b.example")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("splitList = %#v", got)
	}
}

func TestLoadConfigDatabaseOptionalInDevelopment(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DATABASE_URL", "")

	t.Setenv("APP_ENV", "development")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("development without database: %v", err)
	}
	if cfg.DefaultLocale != "en" {
		t.Fatalf("DefaultLocale = %q", cfg.DefaultLocale)
	}

	t.Setenv("APP_ENV", "production")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected DATABASE_URL to be required outside development")
	}
}
