package domain

import (
	"strings"
	"time"
)

// AssetKind enumerates asset types.
type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindVideo AssetKind = "video"
)

// DerivedStatus tracks the image/video record that mirrors a job.
type DerivedStatus string

const (
	DerivedStatusPending    DerivedStatus = "pending"
	DerivedStatusGenerating DerivedStatus = "generating"
	DerivedStatusCompleted  DerivedStatus = "completed"
	DerivedStatusFailed     DerivedStatus = "failed"
)

// IsFinal reports whether the derived record may no longer change status.
func (s DerivedStatus) IsFinal() bool {
	return s == DerivedStatusCompleted || s == DerivedStatusFailed
}

// DerivedRecord is the images/videos row created for a job at submission.
type DerivedRecord struct {
	ID              string
	JobID           string
	OwnerID         string
	Kind            AssetKind
	Status          DerivedStatus
	URL             string
	ErrorMessage    string
	Prompt          string
	Model           string
	Seed            *int64
	DurationSeconds *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StagedAsset is a completed artifact waiting in temporary storage for the
// owner to keep or discard it.
type StagedAsset struct {
	ID                 string
	JobID              string
	OwnerID            string
	AssetType          AssetKind
	TempStorageKey     string
	MimeType           string
	SizeBytes          int64
	DurationSeconds    *float64
	OriginatingPrompt  string
	ModelUsed          string
	GenerationSeed     *int64
	WorkspaceSessionID string
	PromotedAt         *time.Time
	LibraryAssetID     *string
	CreatedAt          time.Time
}

// IsPromoted reports whether the asset already has a library copy.
func (a *StagedAsset) IsPromoted() bool {
	return a != nil && (a.PromotedAt != nil || a.LibraryAssetID != nil)
}

// Visibility controls who may see a library asset.
type Visibility string

const (
	VisibilityPrivate  Visibility = "private"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPublic   Visibility = "public"
)

// ParseVisibility falls back to private for unknown input.
func ParseVisibility(raw string) Visibility {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(raw))); v {
	case VisibilityUnlisted, VisibilityPublic:
		return v
	default:
		return VisibilityPrivate
	}
}

// LibraryAsset is the permanent copy of a promoted staged asset. Its storage
// key never changes after creation.
type LibraryAsset struct {
	ID                  string
	OwnerID             string
	SourceStagedAssetID string
	AssetType           AssetKind
	StorageKey          string
	MimeType            string
	SizeBytes           int64
	DurationSeconds     *float64
	OriginatingPrompt   string
	ModelUsed           string
	GenerationSeed      *int64
	CustomTitle         string
	Tags                []string
	IsFavorite          bool
	CollectionID        *string
	Visibility          Visibility
	CreatedAt           time.Time
}

// CleanupStatus tracks a storage cleanup intent.
type CleanupStatus string

const (
	CleanupStatusPending   CleanupStatus = "pending"
	CleanupStatusDone      CleanupStatus = "done"
	CleanupStatusCancelled CleanupStatus = "cancelled"
)

// CleanupIntent records an object that must be deleted unless the operation
// that created it commits. Intents are the compensation log for promotion.
type CleanupIntent struct {
	ID        string
	Bucket    string
	ObjectKey string
	Reason    string
	RefID     string
	Status    CleanupStatus
	Attempts  int
	DueAt     time.Time
	LastError string
}
