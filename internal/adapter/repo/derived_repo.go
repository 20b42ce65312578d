package repo

import (
	"context"
	"fmt"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// DerivedRepositoryPG implements domain.DerivedRepository over the images and
// videos tables.
type DerivedRepositoryPG struct {
	db infra.SQLExecutor
}

// NewDerivedRepository constructs a derived record repository.
func NewDerivedRepository(db infra.SQLExecutor) *DerivedRepositoryPG {
	return &DerivedRepositoryPG{db: db}
}

// GetByJobID returns the record created for the job at submission.
func (r *DerivedRepositoryPG) GetByJobID(ctx context.Context, kind domain.AssetKind, jobID string) (*domain.DerivedRecord, error) {
	q, err := derivedQuery(kind, sqlinline.QSelectImageByJob, sqlinline.QSelectVideoByJob)
	if err != nil {
		return nil, err
	}
	rec, err := scanDerived(r.db.QueryRow(ctx, q, jobID), kind)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// MarkGenerating is informational; a final record is left untouched.
func (r *DerivedRepositoryPG) MarkGenerating(ctx context.Context, kind domain.AssetKind, jobID string) error {
	_, err := r.setStatus(ctx, kind, jobID, domain.DerivedStatusGenerating, nil, nil)
	return err
}

// MarkCompleted records the output URL. When the record is already final the
// stored record is returned unchanged.
func (r *DerivedRepositoryPG) MarkCompleted(ctx context.Context, kind domain.AssetKind, jobID, url string) (*domain.DerivedRecord, error) {
	empty := ""
	return r.setStatus(ctx, kind, jobID, domain.DerivedStatusCompleted, &url, &empty)
}

// MarkFailed stores the worker's error message verbatim.
func (r *DerivedRepositoryPG) MarkFailed(ctx context.Context, kind domain.AssetKind, jobID, errMsg string) error {
	_, err := r.setStatus(ctx, kind, jobID, domain.DerivedStatusFailed, nil, &errMsg)
	return err
}

func (r *DerivedRepositoryPG) setStatus(ctx context.Context, kind domain.AssetKind, jobID string, status domain.DerivedStatus, url, errMsg *string) (*domain.DerivedRecord, error) {
	q, err := derivedQuery(kind, sqlinline.QSetImageStatus, sqlinline.QSetVideoStatus)
	if err != nil {
		return nil, err
	}
	rec, err := scanDerived(r.db.QueryRow(ctx, q, jobID, string(status), url, errMsg), kind)
	if err == nil {
		return rec, nil
	}
	if !infra.IsNoRows(err) {
		return nil, err
	}
	// Either the record is already final or it does not exist.
	return r.GetByJobID(ctx, kind, jobID)
}

func insertDerived(ctx context.Context, db infra.SQLExecutor, rec *domain.DerivedRecord) error {
	var status string
	switch rec.Kind {
	case domain.AssetKindImage:
		if err := db.QueryRow(ctx, sqlinline.QInsertImageRecord,
			rec.JobID, rec.OwnerID, rec.Prompt, rec.Model, rec.Seed,
		).Scan(&rec.ID, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return fmt.Errorf("insert image record: %w", err)
		}
	case domain.AssetKindVideo:
		if err := db.QueryRow(ctx, sqlinline.QInsertVideoRecord,
			rec.JobID, rec.OwnerID, rec.Prompt, rec.Model, rec.Seed, rec.DurationSeconds,
		).Scan(&rec.ID, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return fmt.Errorf("insert video record: %w", err)
		}
	default:
		return fmt.Errorf("derived record kind %q: %w", rec.Kind, domain.ErrInvalidJobType)
	}
	rec.Status = domain.DerivedStatus(status)
	return nil
}

func derivedQuery(kind domain.AssetKind, image, video string) (string, error) {
	switch kind {
	case domain.AssetKindImage:
		return image, nil
	case domain.AssetKindVideo:
		return video, nil
	default:
		return "", fmt.Errorf("derived record kind %q: %w", kind, domain.ErrInvalidJobType)
	}
}

func scanDerived(row rowScanner, kind domain.AssetKind) (*domain.DerivedRecord, error) {
	rec := domain.DerivedRecord{Kind: kind}
	var status string
	if err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.OwnerID,
		&status,
		&rec.URL,
		&rec.ErrorMessage,
		&rec.Prompt,
		&rec.Model,
		&rec.Seed,
		&rec.DurationSeconds,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = domain.DerivedStatus(status)
	return &rec, nil
}
