package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"genstudio/internal/http/handlers"
	"genstudio/internal/middleware"
)

// Options configures the router's middleware.
type Options struct {
	JWTSecret string
	// WorkerSecret verifies callback tokens; JWTSecret is used when empty.
	WorkerSecret  string
	CORSOrigins   []string
	DefaultLocale string
	// CountryLookup resolves client IPs for locale and origin detection.
	CountryLookup middleware.CountryLookup
	// SubmitLimit caps job submissions per caller per SubmitWindow.
	SubmitLimit  int
	SubmitWindow time.Duration
	// RequestTimeout bounds JSON routes. Event streams, file downloads and
	// worker callbacks, which may fetch the artifact, are not bounded.
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	bounded := func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(chimw.Timeout(opts.RequestTimeout))
		}
	}

	r.Group(func(r chi.Router) {
		bounded(r)
		r.Get("/v1/healthz", app.Health)
		r.Get("/v1/openapi.json", app.OpenAPIJSON)
		r.Get("/v1/docs", app.OpenAPIDocs)
	})

	if app.Files != nil {
		r.Get("/files/{bucket}/*", app.ServeFile)
	}

	workerSecret := opts.WorkerSecret
	if workerSecret == "" {
		workerSecret = opts.JWTSecret
	}
	r.With(middleware.AuthJWT(workerSecret, middleware.AudienceWorker)).
		Post("/v1/callbacks/worker", app.WorkerCallback)

	limit := opts.SubmitLimit
	if limit <= 0 {
		limit = 30
	}
	window := opts.SubmitWindow
	if window <= 0 {
		window = time.Minute
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret, middleware.AudienceAPI))

		r.Get("/v1/jobs/{id}/events", app.JobEvents)

		r.Group(func(r chi.Router) {
			bounded(r)
			r.With(middleware.RateLimit(limit, window)).Post("/v1/jobs", app.SubmitJob)
			r.Get("/v1/jobs", app.ListJobs)
			r.Get("/v1/jobs/{id}", app.GetJob)

			r.Post("/v1/workspace/actions", app.WorkspaceAction)
			r.Get("/v1/workspace/staged", app.ListStaged)
			r.Get("/v1/workspace/staged/{id}", app.GetStaged)
			r.Get("/v1/library/{id}", app.GetLibraryAsset)
		})
	})

	return r
}
