package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"genstudio/internal/bus"
	"genstudio/internal/domain"
	"genstudio/internal/middleware"
	"genstudio/internal/observer"
	"genstudio/internal/submission"
)

const defaultHeartbeat = 15 * time.Second

type submitRequest struct {
	JobType            string          `json:"jobType"`
	TargetEntityID     string          `json:"targetEntityId"`
	WorkspaceSessionID string          `json:"workspaceSessionId"`
	Metadata           domain.Metadata `json:"metadata"`
}

// SubmitJob handles POST /v1/jobs.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", msgUnauthorized)
		return
	}
	var req submitRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", msgInvalidPayload)
		return
	}
	job, err := a.Submissions.Submit(r.Context(), submission.Request{
		OwnerID:            userID,
		JobType:            req.JobType,
		TargetEntityID:     req.TargetEntityID,
		WorkspaceSessionID: req.WorkspaceSessionID,
		Metadata:           req.Metadata,
		Country:            middleware.CountryFromContext(r.Context()),
		RemoteAddr:         r.RemoteAddr,
	})
	switch {
	case err == nil:
		a.json(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
	case errors.Is(err, domain.ErrInvalidJobType):
		a.error(w, r, http.StatusBadRequest, "invalid_job_type", msgInvalidJobType)
	case errors.Is(err, submission.ErrInvalidRequest):
		a.errorText(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, r, http.StatusUnauthorized, "unauthorized", msgUnauthorized)
	case errors.Is(err, domain.ErrWorkerUnavailable):
		a.Logger.Warn().Err(err).Str("job_id", jobIDOf(job)).Msg("submission not dispatched")
		a.error(w, r, http.StatusServiceUnavailable, "worker_unavailable", msgWorkerDown)
	default:
		a.internalError(w, r, err, "submit job")
	}
}

func jobIDOf(j *domain.Job) string {
	if j == nil {
		return ""
	}
	return j.ID
}

// GetJob handles GET /v1/jobs/{id}. Jobs owned by someone else are reported
// as missing.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, newJobView(job))
}

// ListJobs handles GET /v1/jobs?session=&limit=.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", msgUnauthorized)
		return
	}
	jobs, err := a.Jobs.ListJobs(r.Context(), userID, r.URL.Query().Get("session"), queryLimit(r))
	if err != nil {
		a.internalError(w, r, err, "list jobs")
		return
	}
	items := make([]jobView, 0, len(jobs))
	for i := range jobs {
		items = append(items, newJobView(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) ownedJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", msgUnauthorized)
		return nil, false
	}
	job, err := a.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.notFoundOr(w, r, err, msgJobNotFound)
		return nil, false
	}
	if job.OwnerID != userID {
		a.error(w, r, http.StatusNotFound, "not_found", msgJobNotFound)
		return nil, false
	}
	return job, true
}

// JobEvents handles GET /v1/jobs/{id}/events. The current snapshot is sent
// first, then every published transition until the job is terminal or the
// client goes away.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, r, http.StatusInternalServerError, "internal", msgStreamingBlocked)
		return
	}

	ctx := r.Context()
	var events <-chan bus.JobEvent
	if !job.Status.IsTerminal() && a.Events != nil {
		ch, err := a.Events.Subscribe(ctx, job.ID)
		if err != nil {
			a.internalError(w, r, err, "subscribe job events")
			return
		}
		events = ch
		// The job may have moved between the read and the subscription.
		if fresh, err := a.Jobs.GetJob(ctx, job.ID); err == nil {
			job = fresh
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	last := snapshotOf(job)
	if err := writeSSE(w, "status", last); err != nil {
		return
	}
	flusher.Flush()
	if job.Status.IsTerminal() || events == nil {
		return
	}

	interval := a.Heartbeat
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			snap := snapshotFromEvent(ev, last)
			if snap.Status.Rank() < last.Status.Rank() {
				continue
			}
			last = snap
			if err := writeSSE(w, "status", snap); err != nil {
				return
			}
			flusher.Flush()
			if snap.Status.IsTerminal() {
				return
			}
		}
	}
}

func snapshotFromEvent(ev bus.JobEvent, prev observer.Snapshot) observer.Snapshot {
	snap := observer.Snapshot{
		JobID:          ev.JobID,
		Type:           ev.Type,
		Status:         ev.Status,
		OutputURL:      ev.OutputURL,
		ErrorMessage:   ev.ErrorMessage,
		StagedAssetID:  ev.StagedAssetID,
		DerivedAssetID: prev.DerivedAssetID,
	}
	if snap.Type == "" {
		snap.Type = prev.Type
	}
	return snap
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
