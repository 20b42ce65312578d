package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// LibraryRepositoryPG implements domain.LibraryRepository.
type LibraryRepositoryPG struct {
	db infra.TxRunner
}

// NewLibraryRepository constructs a library repository.
func NewLibraryRepository(db infra.TxRunner) *LibraryRepositoryPG {
	return &LibraryRepositoryPG{db: db}
}

// Promote commits a promotion: the library row, the staged asset's promoted
// marker and both cleanup intents change together or not at all.
func (r *LibraryRepositoryPG) Promote(ctx context.Context, p domain.Promotion) error {
	a := p.Asset
	if a == nil {
		return fmt.Errorf("promote: library asset is required")
	}
	visibility := a.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPrivate
	}
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}

	return r.db.InTx(ctx, func(tx infra.SQLExecutor) error {
		err := tx.QueryRow(ctx, sqlinline.QInsertLibraryAsset,
			a.ID,
			a.OwnerID,
			a.SourceStagedAssetID,
			string(a.AssetType),
			a.StorageKey,
			a.MimeType,
			a.SizeBytes,
			a.DurationSeconds,
			a.OriginatingPrompt,
			a.ModelUsed,
			a.GenerationSeed,
			a.CustomTitle,
			tags,
			a.CollectionID,
			string(visibility),
		).Scan(&a.CreatedAt)
		if err != nil {
			if infra.IsNoRows(err) {
				return domain.ErrAlreadyPromoted
			}
			return fmt.Errorf("insert library asset: %w", err)
		}

		tag, err := tx.Exec(ctx, sqlinline.QMarkStagedAssetPromoted, p.StagedAssetID, a.ID)
		if err != nil {
			return fmt.Errorf("mark staged asset promoted: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAlreadyPromoted
		}

		if p.CommittedKey.ID != "" {
			if _, err := tx.Exec(ctx, sqlinline.QCancelCleanup, p.CommittedKey.ID); err != nil {
				return fmt.Errorf("cancel destination cleanup: %w", err)
			}
		}
		if p.DeferredDelete.ObjectKey != "" {
			if err := scheduleCleanup(ctx, tx, p.DeferredDelete); err != nil {
				return fmt.Errorf("schedule staging cleanup: %w", err)
			}
		}
		return nil
	})
}

// GetByID fetches a library asset.
func (r *LibraryRepositoryPG) GetByID(ctx context.Context, id string) (*domain.LibraryAsset, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	var (
		a                     domain.LibraryAsset
		assetType, visibility string
	)
	err := r.db.QueryRow(ctx, sqlinline.QSelectLibraryAssetByID, id).Scan(
		&a.ID,
		&a.OwnerID,
		&a.SourceStagedAssetID,
		&assetType,
		&a.StorageKey,
		&a.MimeType,
		&a.SizeBytes,
		&a.DurationSeconds,
		&a.OriginatingPrompt,
		&a.ModelUsed,
		&a.GenerationSeed,
		&a.CustomTitle,
		&a.Tags,
		&a.IsFavorite,
		&a.CollectionID,
		&visibility,
		&a.CreatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	a.AssetType = domain.AssetKind(assetType)
	a.Visibility = domain.Visibility(visibility)
	return &a, nil
}
