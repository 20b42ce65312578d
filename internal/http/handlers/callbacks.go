package handlers

import (
	"errors"
	"net/http"

	"genstudio/internal/domain"
	"genstudio/internal/middleware"
	"genstudio/internal/reconciler"
)

// WorkerCallback handles POST /v1/callbacks/worker. Duplicate and stale
// callbacks are acknowledged so the worker stops retrying them.
func (a *App) WorkerCallback(w http.ResponseWriter, r *http.Request) {
	var cb reconciler.Callback
	if err := a.decode(w, r, &cb); err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", msgInvalidPayload)
		return
	}
	if claims := middleware.ClaimsFromContext(r.Context()); claims == nil || claims.Subject != cb.JobID {
		a.error(w, r, http.StatusForbidden, "forbidden", msgCallbackScope)
		return
	}

	res, err := a.Callbacks.Apply(r.Context(), cb)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidCallback):
		a.errorText(w, http.StatusBadRequest, "invalid_callback", err.Error())
		return
	case errors.Is(err, domain.ErrUnknownJob):
		a.Logger.Error().Str("job_id", cb.JobID).Str("status", cb.Status).Msg("callback for unknown job")
		a.error(w, r, http.StatusNotFound, "not_found", msgJobNotFound)
		return
	default:
		a.internalError(w, r, err, "apply callback")
		return
	}

	resp := map[string]any{"success": true}
	if res.Duplicate {
		resp["duplicate"] = true
	}
	if res.Stale {
		resp["stale"] = true
	}
	if res.Job != nil {
		resp["status"] = res.Job.Status
	}
	a.json(w, http.StatusOK, resp)
}
