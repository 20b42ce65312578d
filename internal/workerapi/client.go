// Package workerapi talks to the external generation worker over HTTP.
package workerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

// ErrNotConfigured indicates that no worker base URL was provided.
var ErrNotConfigured = errors.New("workerapi: base url is required")

// Options configures the worker client.
type Options struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	HealthTTL      time.Duration
	Now            func() time.Time
}

// Reference pins a generation to a reference image.
type Reference struct {
	ImageURL string  `json:"image_url"`
	Strength float64 `json:"strength"`
	Seed     *int64  `json:"seed,omitempty"`
}

// GenerateRequest is the job payload posted to the worker.
type GenerateRequest struct {
	JobID          string         `json:"job_id"`
	Type           domain.JobType `json:"type"`
	Prompt         string         `json:"prompt,omitempty"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	Reference      *Reference     `json:"reference,omitempty"`
	CallbackURL    string         `json:"callback_url"`
	CallbackToken  string         `json:"callback_token,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Health is the cached result of the worker's health probe.
type Health struct {
	Healthy      bool          `json:"healthy"`
	StatusCode   int           `json:"status_code,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
	ResponseTime time.Duration `json:"response_time"`
}

// Client performs HTTP calls to the generation worker.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *infra.Logger
	healthTTL  time.Duration
	now        func() time.Time

	group  singleflight.Group
	mu     sync.Mutex
	health *Health
}

// NewClient constructs a client with defaults for anything left unset.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	healthTTL := opts.HealthTTL
	if healthTTL <= 0 {
		healthTTL = 30 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		l := opts.Logger.With().Str("component", "workerapi").Logger()
		logger = &l
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		logger:     logger,
		healthTTL:  healthTTL,
		now:        now,
	}, nil
}

// Dispatch posts a job to the worker. Any non-2xx response is an error.
func (c *Client) Dispatch(ctx context.Context, req GenerateRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("workerapi: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("workerapi: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("workerapi: dispatch %s: %w: %v", req.JobID, domain.ErrWorkerUnavailable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("workerapi: dispatch %s: %w: status %d: %s",
			req.JobID, domain.ErrWorkerUnavailable, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	c.logger.Debug().
		Str("job_id", req.JobID).
		Str("type", string(req.Type)).
		Int("status", resp.StatusCode).
		Msg("job dispatched")
	return nil
}

const healthProbeTimeout = 10 * time.Second

// Health returns the worker's health, probing at most once per HealthTTL.
// Concurrent callers share a single in-flight probe.
func (c *Client) Health(ctx context.Context) Health {
	c.mu.Lock()
	if c.health != nil && c.now().Sub(c.health.CheckedAt) < c.healthTTL {
		h := *c.health
		c.mu.Unlock()
		return h
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do("health", func() (any, error) {
		// The probe is shared, so one caller going away must not fail it
		// for the others or poison the cache.
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healthProbeTimeout)
		defer cancel()
		h := c.probe(probeCtx)
		c.mu.Lock()
		c.health = &h
		c.mu.Unlock()
		return h, nil
	})
	return v.(Health)
}

func (c *Client) probe(ctx context.Context) Health {
	start := c.now()
	h := Health{CheckedAt: start}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		h.Detail = err.Error()
		return h
	}
	resp, err := c.httpClient.Do(req)
	h.ResponseTime = c.now().Sub(start)
	if err != nil {
		h.Detail = err.Error()
		c.logger.Warn().Err(err).Msg("worker health probe failed")
		return h
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	h.StatusCode = resp.StatusCode
	h.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300 && hasStatusToken(raw)
	if !h.Healthy {
		h.Detail = strings.TrimSpace(string(raw))
		if len(h.Detail) > 200 {
			h.Detail = h.Detail[:200]
		}
	}
	return h
}

var statusTokens = map[string]struct{}{
	"ok":      {},
	"healthy": {},
	"ready":   {},
	"up":      {},
	"pass":    {},
	"passing": {},
}

// hasStatusToken reports whether the body contains a recognized health word.
// Matching is on whole words so "upstream down" is not read as "up".
func hasStatusToken(body []byte) bool {
	text := strings.ToLower(strings.TrimSpace(string(body)))
	if text == "" {
		return false
	}
	words := strings.FieldsFunc(text, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	for _, w := range words {
		if _, ok := statusTokens[w]; ok {
			return true
		}
	}
	return false
}
