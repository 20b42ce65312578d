package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"genstudio/internal/adapter/memory"
	"genstudio/internal/adapter/repo"
	"genstudio/internal/bus"
	"genstudio/internal/domain"
	"genstudio/internal/http/handlers"
	"genstudio/internal/http/httpapi"
	"genstudio/internal/infra"
	"genstudio/internal/infra/geoip"
	"genstudio/internal/jobstore"
	"genstudio/internal/middleware"
	"genstudio/internal/reconciler"
	"genstudio/internal/signedurl"
	"genstudio/internal/staging"
	"genstudio/internal/storage"
	"genstudio/internal/submission"
	"genstudio/internal/workerapi"
)

// callbackTokenTTL bounds how long a worker may report on a dispatched job.
const callbackTokenTTL = 24 * time.Hour

type repositories struct {
	jobs       domain.JobRepository
	derived    domain.DerivedRepository
	characters domain.CharacterRepository
	staged     domain.StagedAssetRepository
	library    domain.LibraryRepository
	cleanups   domain.CleanupRepository
}

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *infra.Config, logger infra.Logger) error {
	repos, closeRepos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepos()

	objects, files, closeStore, err := openObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	events, err := openBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer events.Close()

	worker, err := workerapi.NewClient(workerapi.Options{
		BaseURL:        cfg.WorkerBaseURL,
		APIKey:         cfg.WorkerAPIKey,
		Logger:         &logger,
		RequestTimeout: cfg.WorkerTimeout,
		HealthTTL:      cfg.WorkerHealthTTL,
	})
	if err != nil {
		return err
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		return err
	}
	defer resolver.Close()
	var (
		geo    geoip.CountryResolver
		lookup middleware.CountryLookup
	)
	if resolver != nil {
		geo = resolver
		lookup = resolver.CountryCode
	}

	jobs := jobstore.New(repos.jobs, &logger)
	urls := signedurl.New(objects, signedurl.Options{
		TTL:          cfg.SignedURLTTL,
		SafetyMargin: cfg.SignedURLSafetyMargin,
	})
	stager := staging.New(repos.staged, repos.library, repos.cleanups, objects, staging.Options{
		StagingBucket: cfg.StagingBucket,
		LibraryBucket: cfg.LibraryBucket,
		StagingTTL:    cfg.StagingTTL,
		CleanupGrace:  cfg.CleanupGrace,
		URLs:          urls,
		Logger:        &logger,
	})
	callbacks := reconciler.New(jobs, repos.derived, repos.characters, stager, events, &logger)
	submissions := submission.New(jobs, repos.derived, repos.characters, worker, submission.Options{
		CallbackURL: cfg.PublicBaseURL + "/v1/callbacks/worker",
		CallbackToken: func(jobID string) (string, error) {
			return middleware.IssueToken(cfg.WorkerCallbackSecret, jobID, middleware.AudienceWorker, callbackTokenTTL)
		},
		Geo:    geo,
		Logger: &logger,
	})

	app := &handlers.App{
		Jobs:        jobs,
		Submissions: submissions,
		Callbacks:   callbacks,
		Workspace:   stager,
		Library:     repos.library,
		URLs:        urls,
		Worker:      worker,
		Events:      events,
		Logger:      infra.Component(logger, "http"),
	}
	if files != nil {
		app.Files = files
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		WorkerSecret:   cfg.WorkerCallbackSecret,
		CORSOrigins:    cfg.AllowedOrigins,
		DefaultLocale:  cfg.DefaultLocale,
		CountryLookup:  lookup,
		SubmitLimit:    cfg.RateLimitPerMin,
		SubmitWindow:   time.Minute,
		RequestTimeout: cfg.HTTPWriteTimeout,
		Logger:         infra.Component(logger, "access"),
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Msgf("API listening on %s", server.Addr())
		return server.Start()
	})
	g.Go(func() error {
		return stager.RunSweeper(gctx, cfg.CleanupInterval)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SignedURLTTL)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := urls.Prune(); n > 0 {
					logger.Debug().Int("pruned", n).Msg("signed url cache pruned")
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openRepositories(ctx context.Context, cfg *infra.Config, logger infra.Logger) (repositories, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set; using in-memory store")
		mem := memory.New()
		return repositories{
			jobs:       mem.Jobs(),
			derived:    mem.Derived(),
			characters: mem.Characters(),
			staged:     mem.Staged(),
			library:    mem.Library(),
			cleanups:   mem.Cleanups(),
		}, func() {}, nil
	}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return repositories{}, nil, err
	}
	runner := infra.NewSQLRunner(pool, infra.Component(logger, "sql"))
	return repositories{
		jobs:       repo.NewJobRepository(runner),
		derived:    repo.NewDerivedRepository(runner),
		characters: repo.NewCharacterRepository(runner),
		staged:     repo.NewStagedAssetRepository(runner),
		library:    repo.NewLibraryRepository(runner),
		cleanups:   repo.NewCleanupRepository(runner),
	}, pool.Close, nil
}

func openObjectStore(ctx context.Context, cfg *infra.Config) (storage.ObjectStore, *storage.FileStore, func(), error) {
	switch cfg.StorageDriver {
	case "gcs":
		gcs, err := storage.NewGCSStore(ctx, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, nil, nil, err
		}
		return gcs, nil, func() { _ = gcs.Close() }, nil
	default:
		fs, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL, []byte(cfg.JWTSecret))
		if err != nil {
			return nil, nil, nil, err
		}
		return fs, fs, func() {}, nil
	}
}

func openBus(ctx context.Context, cfg *infra.Config, logger infra.Logger) (bus.Bus, error) {
	if cfg.RedisAddr == "" {
		return bus.NewLocalBus(64), nil
	}
	return bus.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisChannelPrefix, &logger)
}
