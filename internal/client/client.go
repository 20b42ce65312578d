// Package client talks to the generation API. It also implements the
// observer's Fetcher and Subscriber over HTTP polling and server-sent events.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"genstudio/internal/domain"
	"genstudio/internal/observer"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a thin JSON client for the /v1 API.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
}

// New returns a Client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("client: base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{baseURL: base, token: opts.Token, timeout: timeout, http: hc}, nil
}

// SubmitRequest is the body of POST /v1/jobs.
type SubmitRequest struct {
	JobType            string         `json:"jobType"`
	TargetEntityID     string         `json:"targetEntityId,omitempty"`
	WorkspaceSessionID string         `json:"workspaceSessionId,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Job is the API view of a job.
type Job struct {
	JobID              string         `json:"jobId"`
	Type               string         `json:"type"`
	Status             string         `json:"status"`
	TargetEntityID     string         `json:"targetEntityId,omitempty"`
	WorkspaceSessionID string         `json:"workspaceSessionId,omitempty"`
	OutputURL          string         `json:"outputUrl,omitempty"`
	ErrorMessage       string         `json:"errorMessage,omitempty"`
	StagedAssetID      string         `json:"stagedAssetId,omitempty"`
	DerivedAssetID     string         `json:"derivedAssetId,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
}

// Snapshot converts the view for the observer.
func (j Job) Snapshot() observer.Snapshot {
	return observer.Snapshot{
		JobID:          j.JobID,
		Type:           domain.JobType(j.Type),
		Status:         domain.JobStatus(j.Status),
		OutputURL:      j.OutputURL,
		ErrorMessage:   j.ErrorMessage,
		StagedAssetID:  j.StagedAssetID,
		DerivedAssetID: j.DerivedAssetID,
	}
}

// StagedAsset is the API view of a staged asset.
type StagedAsset struct {
	ID                string    `json:"id"`
	JobID             string    `json:"jobId"`
	AssetType         string    `json:"assetType"`
	MimeType          string    `json:"mimeType"`
	SizeBytes         int64     `json:"sizeBytes"`
	DurationSeconds   *float64  `json:"durationSeconds,omitempty"`
	OriginatingPrompt string    `json:"originatingPrompt,omitempty"`
	ModelUsed         string    `json:"modelUsed,omitempty"`
	URL               string    `json:"url,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ActionRequest is the body of POST /v1/workspace/actions.
type ActionRequest struct {
	Action       string   `json:"action"`
	AssetID      string   `json:"assetId"`
	Title        string   `json:"title,omitempty"`
	CollectionID string   `json:"collectionId,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Visibility   string   `json:"visibility,omitempty"`
}

// ActionResult is the response of a workspace action.
type ActionResult struct {
	Success        bool   `json:"success"`
	LibraryAssetID string `json:"libraryAssetId,omitempty"`
}

// Health is the API health view.
type Health struct {
	Status string `json:"status"`
	Worker struct {
		Healthy        bool      `json:"healthy"`
		StatusCode     int       `json:"statusCode"`
		Detail         string    `json:"detail,omitempty"`
		CheckedAt      time.Time `json:"checkedAt"`
		ResponseTimeMS int64     `json:"responseTimeMs"`
	} `json:"worker"`
}

// Submit creates a job and returns its id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// GetJob returns one job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns recent jobs, optionally for one workspace session.
func (c *Client) ListJobs(ctx context.Context, sessionID string, limit int) ([]Job, error) {
	q := url.Values{}
	if sessionID != "" {
		q.Set("session", sessionID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Items []Job `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/jobs?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListStaged returns the caller's undecided staged assets.
func (c *Client) ListStaged(ctx context.Context, sessionID string) ([]StagedAsset, error) {
	path := "/v1/workspace/staged"
	if sessionID != "" {
		path += "?session=" + url.QueryEscape(sessionID)
	}
	var out struct {
		Items []StagedAsset `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// WorkspaceAction saves or discards a staged asset.
func (c *Client) WorkspaceAction(ctx context.Context, req ActionRequest) (ActionResult, error) {
	var out ActionResult
	err := c.do(ctx, http.MethodPost, "/v1/workspace/actions", req, &out)
	return out, err
}

// Health returns the API's health view, including the cached worker probe.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/v1/healthz", nil, &out)
	return out, err
}

// FetchJob implements observer.Fetcher. A 404 is reported as
// observer.ErrNotVisible.
func (c *Client) FetchJob(ctx context.Context, jobID string) (observer.Snapshot, error) {
	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Category == CategoryNotFound {
			apiErr.Err = observer.ErrNotVisible
		}
		return observer.Snapshot{}, err
	}
	return job.Snapshot(), nil
}

// Subscribe implements observer.Subscriber over GET /v1/jobs/{id}/events.
// The channel closes when the stream ends or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, jobID string) (<-chan observer.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs/"+url.PathEscape(jobID)+"/events", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, "", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, parseHTTPError(resp.StatusCode, raw)
	}

	out := make(chan observer.Snapshot, 4)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		_ = streamSSE(resp.Body, func(event, data string) error {
			if event != "" && event != "status" {
				return nil
			}
			var snap observer.Snapshot
			if err := json.Unmarshal([]byte(data), &snap); err != nil || snap.Status == "" {
				return nil
			}
			select {
			case out <- snap:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}
	c.setHeaders(req, contentType, "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseHTTPError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Category: CategoryUnknown, StatusCode: resp.StatusCode, Detail: "unexpected response", Err: err}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, contentType, accept string) {
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
