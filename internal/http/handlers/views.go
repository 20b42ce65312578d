package handlers

import (
	"context"
	"time"

	"genstudio/internal/domain"
	"genstudio/internal/observer"
)

type jobView struct {
	JobID              string          `json:"jobId"`
	Type               domain.JobType  `json:"type"`
	Status             string          `json:"status"`
	TargetEntityID     string          `json:"targetEntityId,omitempty"`
	WorkspaceSessionID string          `json:"workspaceSessionId,omitempty"`
	OutputURL          string          `json:"outputUrl,omitempty"`
	ErrorMessage       string          `json:"errorMessage,omitempty"`
	StagedAssetID      string          `json:"stagedAssetId,omitempty"`
	DerivedAssetID     string          `json:"derivedAssetId,omitempty"`
	Metadata           domain.Metadata `json:"metadata,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
}

func newJobView(j *domain.Job) jobView {
	v := jobView{
		JobID:              j.ID,
		Type:               j.Type,
		Status:             string(j.Status),
		TargetEntityID:     j.TargetEntityID,
		WorkspaceSessionID: j.WorkspaceSessionID,
		OutputURL:          j.Metadata.String("output_url"),
		ErrorMessage:       j.ErrorMessage,
		StagedAssetID:      j.Metadata.String("staged_asset_id"),
		Metadata:           j.Metadata,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
		CompletedAt:        j.CompletedAt,
	}
	if j.DerivedAssetID != nil {
		v.DerivedAssetID = *j.DerivedAssetID
	}
	return v
}

func snapshotOf(j *domain.Job) observer.Snapshot {
	v := newJobView(j)
	return observer.Snapshot{
		JobID:          v.JobID,
		Type:           v.Type,
		Status:         j.Status,
		OutputURL:      v.OutputURL,
		ErrorMessage:   v.ErrorMessage,
		StagedAssetID:  v.StagedAssetID,
		DerivedAssetID: v.DerivedAssetID,
	}
}

type stagedView struct {
	ID                 string           `json:"id"`
	JobID              string           `json:"jobId"`
	AssetType          domain.AssetKind `json:"assetType"`
	MimeType           string           `json:"mimeType"`
	SizeBytes          int64            `json:"sizeBytes"`
	DurationSeconds    *float64         `json:"durationSeconds,omitempty"`
	OriginatingPrompt  string           `json:"originatingPrompt,omitempty"`
	ModelUsed          string           `json:"modelUsed,omitempty"`
	GenerationSeed     *int64           `json:"generationSeed,omitempty"`
	WorkspaceSessionID string           `json:"workspaceSessionId,omitempty"`
	LibraryAssetID     *string          `json:"libraryAssetId,omitempty"`
	URL                string           `json:"url,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
}

type libraryView struct {
	ID                  string            `json:"id"`
	SourceStagedAssetID string            `json:"sourceStagedAssetId"`
	AssetType           domain.AssetKind  `json:"assetType"`
	MimeType            string            `json:"mimeType"`
	SizeBytes           int64             `json:"sizeBytes"`
	DurationSeconds     *float64          `json:"durationSeconds,omitempty"`
	OriginatingPrompt   string            `json:"originatingPrompt,omitempty"`
	ModelUsed           string            `json:"modelUsed,omitempty"`
	GenerationSeed      *int64            `json:"generationSeed,omitempty"`
	Title               string            `json:"title,omitempty"`
	Tags                []string          `json:"tags"`
	IsFavorite          bool              `json:"isFavorite"`
	CollectionID        *string           `json:"collectionId,omitempty"`
	Visibility          domain.Visibility `json:"visibility"`
	URL                 string            `json:"url,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
}

func (a *App) stagedView(ctx context.Context, s *domain.StagedAsset) stagedView {
	v := stagedView{
		ID:                 s.ID,
		JobID:              s.JobID,
		AssetType:          s.AssetType,
		MimeType:           s.MimeType,
		SizeBytes:          s.SizeBytes,
		DurationSeconds:    s.DurationSeconds,
		OriginatingPrompt:  s.OriginatingPrompt,
		ModelUsed:          s.ModelUsed,
		GenerationSeed:     s.GenerationSeed,
		WorkspaceSessionID: s.WorkspaceSessionID,
		LibraryAssetID:     s.LibraryAssetID,
		CreatedAt:          s.CreatedAt,
	}
	if !s.IsPromoted() {
		v.URL = a.assetURL(ctx, a.Workspace.StagingBucket(), s.TempStorageKey)
	}
	return v
}

func (a *App) libraryView(ctx context.Context, l *domain.LibraryAsset) libraryView {
	tags := l.Tags
	if tags == nil {
		tags = []string{}
	}
	return libraryView{
		ID:                  l.ID,
		SourceStagedAssetID: l.SourceStagedAssetID,
		AssetType:           l.AssetType,
		MimeType:            l.MimeType,
		SizeBytes:           l.SizeBytes,
		DurationSeconds:     l.DurationSeconds,
		OriginatingPrompt:   l.OriginatingPrompt,
		ModelUsed:           l.ModelUsed,
		GenerationSeed:      l.GenerationSeed,
		Title:               l.CustomTitle,
		Tags:                tags,
		IsFavorite:          l.IsFavorite,
		CollectionID:        l.CollectionID,
		Visibility:          l.Visibility,
		URL:                 a.assetURL(ctx, a.Workspace.LibraryBucket(), l.StorageKey),
		CreatedAt:           l.CreatedAt,
	}
}

// assetURL signs a read URL, or returns "" when signing fails.
func (a *App) assetURL(ctx context.Context, bucket, key string) string {
	if a.URLs == nil || key == "" {
		return ""
	}
	u, err := a.URLs.URL(ctx, bucket, key)
	if err != nil {
		a.Logger.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("sign asset url")
		return ""
	}
	return u
}
