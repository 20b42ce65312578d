// Package staging moves generated artifacts through temporary storage into
// the permanent library.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/storage"
)

const (
	reasonPromotionDestination = "promotion_destination"
	reasonPromotedStaging      = "promoted_staging_object"

	defaultMaxDownload = 512 << 20
)

// libraryNamespace seeds deterministic library ids so a retried promotion
// targets the same object key.
var libraryNamespace = uuid.MustParse("6f1c2a4e-8a53-4d0b-9b7e-2f7f3c1d5a90")

// Options configures the Service.
type Options struct {
	StagingBucket string
	LibraryBucket string
	// StagingTTL is how long an undecided staged asset is kept.
	StagingTTL time.Duration
	// CleanupGrace delays removal of a promotion's destination object so an
	// in-flight promotion can commit first.
	CleanupGrace     time.Duration
	MaxDownloadBytes int64
	// URLs, when set, forgets signed URLs of objects the service deletes.
	URLs             URLInvalidator
	HTTPClient       *http.Client
	Logger           *infra.Logger
	Now              func() time.Time
}

// URLInvalidator drops cached read URLs for an object.
type URLInvalidator interface {
	Invalidate(bucket, path string)
}

// PromoteOptions carries the user-supplied library fields.
type PromoteOptions struct {
	Title        string
	CollectionID string
	Tags         []string
	Visibility   domain.Visibility
}

// SweepResult summarizes one cleanup pass.
type SweepResult struct {
	Deleted int
	Failed  int
	Expired int
}

// Service implements stage, promote, discard and the cleanup sweep.
type Service struct {
	staged   domain.StagedAssetRepository
	library  domain.LibraryRepository
	cleanups domain.CleanupRepository
	store    storage.ObjectStore

	stagingBucket string
	libraryBucket string
	stagingTTL    time.Duration
	grace         time.Duration
	maxDownload   int64
	urls          URLInvalidator
	httpClient    *http.Client
	logger        zerolog.Logger
	now           func() time.Time
}

// New constructs a staging service.
func New(staged domain.StagedAssetRepository, library domain.LibraryRepository, cleanups domain.CleanupRepository, store storage.ObjectStore, opts Options) *Service {
	s := &Service{
		staged:        staged,
		library:       library,
		cleanups:      cleanups,
		store:         store,
		stagingBucket: opts.StagingBucket,
		libraryBucket: opts.LibraryBucket,
		stagingTTL:    opts.StagingTTL,
		grace:         opts.CleanupGrace,
		maxDownload:   opts.MaxDownloadBytes,
		urls:          opts.URLs,
		httpClient:    opts.HTTPClient,
		now:           opts.Now,
		logger:        zerolog.New(io.Discard),
	}
	if s.stagingTTL <= 0 {
		s.stagingTTL = 24 * time.Hour
	}
	if s.grace <= 0 {
		s.grace = time.Hour
	}
	if s.maxDownload <= 0 {
		s.maxDownload = defaultMaxDownload
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Logger != nil {
		s.logger = opts.Logger.With().Str("component", "staging").Logger()
	}
	return s
}

// StagingBucket returns the bucket holding temporary objects.
func (s *Service) StagingBucket() string { return s.stagingBucket }

// LibraryBucket returns the bucket holding promoted objects.
func (s *Service) LibraryBucket() string { return s.libraryBucket }

// Get returns a staged asset visible to ownerID. An empty ownerID skips the
// ownership check.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*domain.StagedAsset, error) {
	asset, err := s.staged.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && asset.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return asset, nil
}

// List returns the owner's undecided staged assets.
func (s *Service) List(ctx context.Context, ownerID, sessionID string, limit int) ([]domain.StagedAsset, error) {
	return s.staged.ListByOwner(ctx, ownerID, sessionID, limit)
}

// Stage records the artifact of a completed image or video job. An http(s)
// output is downloaded into the staging bucket under ownerId/jobId.ext; any
// other output is taken as a key already in the staging bucket. Staging the
// same job twice returns the first record.
func (s *Service) Stage(ctx context.Context, job *domain.Job, output string) (*domain.StagedAsset, error) {
	kind, err := assetKindFor(job.Type)
	if err != nil {
		return nil, err
	}
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, fmt.Errorf("staging: job %s has no output", job.ID)
	}

	var (
		key         string
		contentType string
		size        int64
	)
	if isRemote(output) {
		key, contentType, size, err = s.download(ctx, job, kind, output)
		if err != nil {
			return nil, err
		}
	} else {
		key = strings.TrimLeft(output, "/")
		key = strings.TrimPrefix(key, s.stagingBucket+"/")
		contentType = storage.ContentTypeForKey(key)
	}

	asset := &domain.StagedAsset{
		JobID:              job.ID,
		OwnerID:            job.OwnerID,
		AssetType:          kind,
		TempStorageKey:     key,
		MimeType:           contentType,
		SizeBytes:          size,
		OriginatingPrompt:  job.Metadata.String("prompt"),
		ModelUsed:          job.Metadata.String("model"),
		WorkspaceSessionID: job.WorkspaceSessionID,
	}
	if seed, ok := job.Metadata.Int64("seed"); ok {
		asset.GenerationSeed = &seed
	}
	if kind == domain.AssetKindVideo {
		if d, ok := job.Metadata.Float64("duration_seconds"); ok {
			asset.DurationSeconds = &d
		}
	}

	staged, err := s.staged.CreateForJob(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("staging: record staged asset: %w", err)
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("asset_id", staged.ID).
		Str("key", staged.TempStorageKey).
		Msg("artifact staged")
	return staged, nil
}

// Promote copies a staged asset into the library.
//
// A cleanup intent for the destination object is recorded before the copy
// and cancelled in the same transaction that inserts the library record, so
// a copy whose record never commits is removed by the sweeper after the
// grace period. The library id is derived from the staged id, so a retry
// after a partial failure reuses the same key. A second promotion of the
// same asset returns domain.ErrAlreadyPromoted.
func (s *Service) Promote(ctx context.Context, ownerID, stagedID string, opts PromoteOptions) (*domain.LibraryAsset, error) {
	staged, err := s.Get(ctx, ownerID, stagedID)
	if err != nil {
		return nil, err
	}
	if staged.IsPromoted() {
		return nil, domain.ErrAlreadyPromoted
	}

	libraryID := uuid.NewSHA1(libraryNamespace, []byte(staged.ID)).String()
	dstKey := staged.OwnerID + "/" + libraryID + path.Ext(staged.TempStorageKey)
	now := s.now()

	destination := domain.CleanupIntent{
		ID:        uuid.NewSHA1(libraryNamespace, []byte("destination:"+staged.ID)).String(),
		Bucket:    s.libraryBucket,
		ObjectKey: dstKey,
		Reason:    reasonPromotionDestination,
		RefID:     staged.ID,
		DueAt:     now.Add(s.grace),
	}
	if err := s.cleanups.Schedule(ctx, destination); err != nil {
		return nil, fmt.Errorf("staging: record destination intent: %w", err)
	}

	if err := s.store.Copy(ctx, s.stagingBucket, staged.TempStorageKey, s.libraryBucket, dstKey); err != nil {
		s.logger.Error().Err(err).Str("asset_id", staged.ID).Msg("promotion copy failed")
		return nil, fmt.Errorf("staging: copy to library: %w", err)
	}

	asset := &domain.LibraryAsset{
		ID:                  libraryID,
		OwnerID:             staged.OwnerID,
		SourceStagedAssetID: staged.ID,
		AssetType:           staged.AssetType,
		StorageKey:          dstKey,
		MimeType:            staged.MimeType,
		SizeBytes:           staged.SizeBytes,
		DurationSeconds:     staged.DurationSeconds,
		OriginatingPrompt:   staged.OriginatingPrompt,
		ModelUsed:           staged.ModelUsed,
		GenerationSeed:      staged.GenerationSeed,
		CustomTitle:         strings.TrimSpace(opts.Title),
		Tags:                normalizeTags(opts.Tags),
		Visibility:          opts.Visibility,
	}
	if asset.Visibility == "" {
		asset.Visibility = domain.VisibilityPrivate
	}
	if c := strings.TrimSpace(opts.CollectionID); c != "" {
		asset.CollectionID = &c
	}

	err = s.library.Promote(ctx, domain.Promotion{
		Asset:         asset,
		StagedAssetID: staged.ID,
		CommittedKey:  destination,
		DeferredDelete: domain.CleanupIntent{
			ID:        uuid.NewSHA1(libraryNamespace, []byte("staging:"+staged.ID)).String(),
			Bucket:    s.stagingBucket,
			ObjectKey: staged.TempStorageKey,
			Reason:    reasonPromotedStaging,
			RefID:     staged.ID,
			DueAt:     now,
		},
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyPromoted) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("asset_id", staged.ID).Msg("promotion record failed")
		return nil, fmt.Errorf("staging: record library asset: %w", err)
	}

	s.logger.Info().
		Str("asset_id", staged.ID).
		Str("library_asset_id", asset.ID).
		Str("key", dstKey).
		Msg("asset promoted")
	return asset, nil
}

// Discard deletes the temporary object, then the staging record. Failing to
// delete the object, including when it is already gone, is only logged.
func (s *Service) Discard(ctx context.Context, ownerID, stagedID string) error {
	staged, err := s.Get(ctx, ownerID, stagedID)
	if err != nil {
		return err
	}
	if staged.IsPromoted() {
		return domain.ErrAlreadyPromoted
	}

	if err := s.store.Delete(ctx, s.stagingBucket, staged.TempStorageKey); err != nil {
		evt := s.logger.Warn()
		if errors.Is(err, storage.ErrObjectNotFound) {
			evt = s.logger.Info()
		}
		evt.Err(err).Str("asset_id", staged.ID).Str("key", staged.TempStorageKey).Msg("staging object delete failed")
	}
	s.forgetURL(s.stagingBucket, staged.TempStorageKey)

	if err := s.staged.Delete(ctx, staged.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("staging: delete staged asset: %w", err)
	}
	s.logger.Info().Str("asset_id", staged.ID).Msg("staged asset discarded")
	return nil
}

func (s *Service) forgetURL(bucket, key string) {
	if s.urls != nil {
		s.urls.Invalidate(bucket, key)
	}
}

func (s *Service) download(ctx context.Context, job *domain.Job, kind domain.AssetKind, rawURL string) (string, string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", 0, fmt.Errorf("staging: build download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("staging: download output: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", "", 0, fmt.Errorf("staging: download status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	ext := storage.ExtensionForMIME(contentType)
	if ext == "" {
		ext = extensionFromURL(rawURL)
	}
	if ext == "" {
		ext = defaultExtension(kind)
	}
	if storage.ContentTypeForKey(ext) != "" {
		contentType = storage.ContentTypeForKey(ext)
	}
	key := job.OwnerID + "/" + job.ID + ext

	body := io.LimitReader(resp.Body, s.maxDownload+1)
	n, err := s.store.Put(ctx, s.stagingBucket, key, body, contentType)
	if err != nil {
		return "", "", 0, fmt.Errorf("staging: store output: %w", err)
	}
	if n > s.maxDownload {
		_ = s.store.Delete(ctx, s.stagingBucket, key)
		return "", "", 0, fmt.Errorf("staging: output exceeds %d bytes", s.maxDownload)
	}
	return key, contentType, n, nil
}

func assetKindFor(t domain.JobType) (domain.AssetKind, error) {
	switch t {
	case domain.JobTypeImage:
		return domain.AssetKindImage, nil
	case domain.JobTypeVideo:
		return domain.AssetKindVideo, nil
	default:
		return "", fmt.Errorf("staging: %s jobs produce no asset: %w", t, domain.ErrInvalidJobType)
	}
}

func isRemote(output string) bool {
	u, err := url.Parse(output)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func extensionFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if storage.ContentTypeForKey(ext) == "" {
		return ""
	}
	return ext
}

func defaultExtension(kind domain.AssetKind) string {
	if kind == domain.AssetKindVideo {
		return ".mp4"
	}
	return ".png"
}

func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
