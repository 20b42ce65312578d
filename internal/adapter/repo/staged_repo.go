package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// StagedAssetRepositoryPG implements domain.StagedAssetRepository.
type StagedAssetRepositoryPG struct {
	db infra.SQLExecutor
}

// NewStagedAssetRepository constructs a staged asset repository.
func NewStagedAssetRepository(db infra.SQLExecutor) *StagedAssetRepositoryPG {
	return &StagedAssetRepositoryPG{db: db}
}

// CreateForJob inserts the asset, or returns the one already staged for the job.
func (r *StagedAssetRepositoryPG) CreateForJob(ctx context.Context, asset *domain.StagedAsset) (*domain.StagedAsset, error) {
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	created, err := scanStaged(r.db.QueryRow(ctx, sqlinline.QInsertStagedAsset,
		asset.ID,
		asset.JobID,
		asset.OwnerID,
		string(asset.AssetType),
		asset.TempStorageKey,
		asset.MimeType,
		asset.SizeBytes,
		asset.DurationSeconds,
		asset.OriginatingPrompt,
		asset.ModelUsed,
		asset.GenerationSeed,
		asset.WorkspaceSessionID,
	))
	if err == nil {
		return created, nil
	}
	if !infra.IsNoRows(err) {
		return nil, fmt.Errorf("insert staged asset: %w", err)
	}
	existing, err := scanStaged(r.db.QueryRow(ctx, sqlinline.QSelectStagedAssetByJob, asset.JobID))
	if err != nil {
		return nil, fmt.Errorf("load staged asset for job: %w", err)
	}
	return existing, nil
}

// GetByID fetches a staged asset.
func (r *StagedAssetRepositoryPG) GetByID(ctx context.Context, id string) (*domain.StagedAsset, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	asset, err := scanStaged(r.db.QueryRow(ctx, sqlinline.QSelectStagedAssetByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return asset, nil
}

// ListByOwner returns unpromoted staged assets, newest first.
func (r *StagedAssetRepositoryPG) ListByOwner(ctx context.Context, ownerID, sessionID string, limit int) ([]domain.StagedAsset, error) {
	return r.list(ctx, sqlinline.QListStagedAssetsByOwner, ownerID, sessionID, clampLimit(limit))
}

// ListExpired returns unpromoted staged assets created before the cutoff.
func (r *StagedAssetRepositoryPG) ListExpired(ctx context.Context, createdBefore time.Time, limit int) ([]domain.StagedAsset, error) {
	return r.list(ctx, sqlinline.QListExpiredStagedAssets, createdBefore, clampLimit(limit))
}

// Delete removes an unpromoted staging record.
func (r *StagedAssetRepositoryPG) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QDeleteStagedAsset, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *StagedAssetRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.StagedAsset, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.StagedAsset
	for rows.Next() {
		asset, err := scanStaged(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}

func scanStaged(row rowScanner) (*domain.StagedAsset, error) {
	var (
		a         domain.StagedAsset
		assetType string
	)
	if err := row.Scan(
		&a.ID,
		&a.JobID,
		&a.OwnerID,
		&assetType,
		&a.TempStorageKey,
		&a.MimeType,
		&a.SizeBytes,
		&a.DurationSeconds,
		&a.OriginatingPrompt,
		&a.ModelUsed,
		&a.GenerationSeed,
		&a.WorkspaceSessionID,
		&a.PromotedAt,
		&a.LibraryAssetID,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}
	a.AssetType = domain.AssetKind(assetType)
	return &a, nil
}
