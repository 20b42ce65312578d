package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/message"

	"genstudio/internal/bus"
	"genstudio/internal/domain"
	"genstudio/internal/middleware"
	"genstudio/internal/reconciler"
	"genstudio/internal/staging"
	"genstudio/internal/submission"
	"genstudio/internal/workerapi"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Submitter creates and dispatches jobs.
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (*domain.Job, error)
}

// JobReader reads jobs for status endpoints.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, ownerID, sessionID string, limit int) ([]domain.Job, error)
}

// CallbackApplier applies worker callbacks.
type CallbackApplier interface {
	Apply(ctx context.Context, cb reconciler.Callback) (reconciler.Result, error)
}

// Workspace manages staged assets.
type Workspace interface {
	Get(ctx context.Context, ownerID, id string) (*domain.StagedAsset, error)
	List(ctx context.Context, ownerID, sessionID string, limit int) ([]domain.StagedAsset, error)
	Promote(ctx context.Context, ownerID, stagedID string, opts staging.PromoteOptions) (*domain.LibraryAsset, error)
	Discard(ctx context.Context, ownerID, stagedID string) error
	StagingBucket() string
	LibraryBucket() string
}

// URLSigner returns read URLs for stored objects.
type URLSigner interface {
	URL(ctx context.Context, bucket, path string) (string, error)
}

// WorkerHealth reports the generation worker's cached health.
type WorkerHealth interface {
	Health(ctx context.Context) workerapi.Health
}

// Subscriber streams job events.
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string) (<-chan bus.JobEvent, error)
}

// FileServer serves objects behind locally signed URLs.
type FileServer interface {
	Verify(bucket, key, exp, sig string) error
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// App holds the dependencies shared by all handlers.
type App struct {
	Jobs        JobReader
	Submissions Submitter
	Callbacks   CallbackApplier
	Workspace   Workspace
	Library     domain.LibraryRepository
	URLs        URLSigner
	Worker      WorkerHealth
	Events      Subscriber
	Files       FileServer
	Logger      zerolog.Logger
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// error writes the standard error envelope with message translated to the
// request locale.
func (a *App) error(w http.ResponseWriter, r *http.Request, code int, errCode, msg string) {
	p := message.NewPrinter(middleware.LocaleTag(middleware.LocaleFromContext(r.Context())))
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": p.Sprintf(msg)},
	})
}

// errorText writes the error envelope with text as-is, for detail derived
// from validation errors.
func (a *App) errorText(w http.ResponseWriter, code int, errCode, text string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": text},
	})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// internalError logs err and writes a generic 500.
func (a *App) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	a.Logger.Error().Err(err).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("path", r.URL.Path).
		Msg(msg)
	a.error(w, r, http.StatusInternalServerError, "internal", msgInternal)
}

// notFoundOr writes 404 for domain.ErrNotFound and 500 otherwise.
func (a *App) notFoundOr(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, r, http.StatusNotFound, "not_found", notFoundMsg)
		return
	}
	a.internalError(w, r, err, "lookup failed")
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
