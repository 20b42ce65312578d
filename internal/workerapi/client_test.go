package workerapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"genstudio/internal/domain"
)

func TestDispatchPostsJob(t *testing.T) {
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing api key")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL + "/", APIKey: "key"})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	seed := int64(7)
	err = c.Dispatch(context.Background(), GenerateRequest{
		JobID:     "j1",
		Type:      domain.JobTypeImage,
		Prompt:    "a lighthouse",
		Reference: &Reference{ImageURL: "https://ref", Strength: 0.8, Seed: &seed},
	})
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if got.JobID != "j1" || got.Reference == nil || got.Reference.Strength != 0.8 {
		t.Fatalf("worker received %#v", got)
	}
}

func TestDispatchNon2xxIsWorkerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(Options{BaseURL: srv.URL})
	err := c.Dispatch(context.Background(), GenerateRequest{JobID: "j1"})
	if !errors.Is(err, domain.ErrWorkerUnavailable) {
		t.Fatalf("expected ErrWorkerUnavailable, got %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestHealthTokens(t *testing.T) {
	tests := map[string]bool{
		`{"status":"ok"}`: true,
		"READY":           true,
		"service is up":   true,
		"upstream down":   false,
		"":                false,
		"degraded":        false,
	}
	for body, want := range tests {
		if got := hasStatusToken([]byte(body)); got != want {
			t.Fatalf("hasStatusToken(%q) = %v, want %v", body, got, want)
		}
	}
}

func TestHealthIsCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	now := time.Unix(1_700_000_000, 0)
	c, _ := NewClient(Options{BaseURL: srv.URL, HealthTTL: time.Minute, Now: func() time.Time { return now }})
	ctx := context.Background()

	h := c.Health(ctx)
	if !h.Healthy || h.StatusCode != http.StatusOK || !h.CheckedAt.Equal(now) {
		t.Fatalf("unexpected health %#v", h)
	}
	c.Health(ctx)
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("health should be cached, hits=%d", hits)
	}
	now = now.Add(2 * time.Minute)
	c.Health(ctx)
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expired cache should re-probe, hits=%d", hits)
	}
}

func TestHealthUnhealthyOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{BaseURL: srv.URL})
	if h := c.Health(context.Background()); h.Healthy {
		t.Fatalf("5xx must be unhealthy even with an ok body")
	}
}

func TestHealthIgnoresCancelledCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{BaseURL: srv.URL, HealthTTL: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if first := c.Health(ctx); !first.Healthy {
		t.Fatalf("cancelled caller probe = %+v, want healthy", first)
	}
	if second := c.Health(context.Background()); !second.Healthy || second.Detail != "" {
		t.Fatalf("cached health = %+v, want healthy", second)
	}
}
