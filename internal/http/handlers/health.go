package handlers

import (
	"net/http"
)

// Health handles GET /v1/healthz. The API stays up while the worker is down,
// so the status degrades instead of failing.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if a.Worker != nil {
		h := a.Worker.Health(r.Context())
		if !h.Healthy {
			resp["status"] = "degraded"
		}
		resp["worker"] = map[string]any{
			"healthy":        h.Healthy,
			"statusCode":     h.StatusCode,
			"detail":         h.Detail,
			"checkedAt":      h.CheckedAt,
			"responseTimeMs": h.ResponseTime.Milliseconds(),
		}
	}
	a.json(w, http.StatusOK, resp)
}
