package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities.
type JobRepository interface {
	// Create inserts the job and, when derived is non-nil, its images/videos
	// record in the same transaction.
	Create(ctx context.Context, job *Job, derived *DerivedRecord) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// CompareAndSetStatus moves the job from `from` to `to` only if its stored
	// status still equals `from`. The boolean is false when another writer won.
	CompareAndSetStatus(ctx context.Context, jobID string, from, to JobStatus, patch JobPatch) (*Job, bool, error)
	ListByOwner(ctx context.Context, ownerID, sessionID string, limit int) ([]Job, error)
}

// DerivedRepository updates the images/videos record mirroring a job. Updates
// never move a record out of a final status.
type DerivedRepository interface {
	GetByJobID(ctx context.Context, kind AssetKind, jobID string) (*DerivedRecord, error)
	MarkGenerating(ctx context.Context, kind AssetKind, jobID string) error
	MarkCompleted(ctx context.Context, kind AssetKind, jobID, url string) (*DerivedRecord, error)
	MarkFailed(ctx context.Context, kind AssetKind, jobID, errMsg string) error
}

// CharacterRepository exposes the character fields used by generation.
type CharacterRepository interface {
	GetByID(ctx context.Context, id string) (*Character, error)
	SetPreview(ctx context.Context, id string, status DerivedStatus, url, errMsg string) error
}

// StagedAssetRepository persists staging records.
type StagedAssetRepository interface {
	// CreateForJob inserts the staged asset or returns the one already
	// recorded for the same job.
	CreateForJob(ctx context.Context, asset *StagedAsset) (*StagedAsset, error)
	GetByID(ctx context.Context, id string) (*StagedAsset, error)
	ListByOwner(ctx context.Context, ownerID, sessionID string, limit int) ([]StagedAsset, error)
	ListExpired(ctx context.Context, createdBefore time.Time, limit int) ([]StagedAsset, error)
	Delete(ctx context.Context, id string) error
}

// Promotion is the set of writes committed atomically when a staged asset is
// kept.
type Promotion struct {
	Asset          *LibraryAsset
	StagedAssetID  string
	CommittedKey   CleanupIntent
	DeferredDelete CleanupIntent
}

// LibraryRepository persists permanent assets.
type LibraryRepository interface {
	// Promote returns ErrAlreadyPromoted when the staged asset already has a
	// library copy.
	Promote(ctx context.Context, p Promotion) error
	GetByID(ctx context.Context, id string) (*LibraryAsset, error)
}

// CleanupRepository stores storage cleanup intents.
type CleanupRepository interface {
	Schedule(ctx context.Context, intent CleanupIntent) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]CleanupIntent, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string, retryAt time.Time) error
}
