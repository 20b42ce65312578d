package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	db infra.TxRunner
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.TxRunner) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Create inserts the job and its derived record in one transaction.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job, derived *domain.DerivedRecord) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	metadata, err := marshalMetadata(job.Metadata)
	if err != nil {
		return err
	}
	request := job.Request
	if len(request) == 0 {
		request = []byte("{}")
	}

	return r.db.InTx(ctx, func(tx infra.SQLExecutor) error {
		if err := tx.QueryRow(ctx, sqlinline.QInsertJob,
			job.ID,
			job.OwnerID,
			string(job.Type),
			job.TargetEntityID,
			job.WorkspaceSessionID,
			request,
			metadata,
		).Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if derived == nil {
			return nil
		}
		derived.JobID = job.ID
		derived.OwnerID = job.OwnerID
		return insertDerived(ctx, tx, derived)
	})
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// CompareAndSetStatus applies the transition only while the stored status is
// still `from`. A lost race reports false with a nil error.
func (r *JobRepositoryPG) CompareAndSetStatus(ctx context.Context, jobID string, from, to domain.JobStatus, patch domain.JobPatch) (*domain.Job, bool, error) {
	metadata, err := marshalMetadata(patch.Metadata)
	if err != nil {
		return nil, false, err
	}
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QCompareAndSetJobStatus,
		jobID,
		string(from),
		string(to),
		metadata,
		patch.ErrorMessage,
		patch.DerivedAssetID,
	))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return job, true, nil
}

// ListByOwner returns the owner's most recent jobs, optionally limited to one
// workspace session.
func (r *JobRepositoryPG) ListByOwner(ctx context.Context, ownerID, sessionID string, limit int) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListJobsByOwner, ownerID, sessionID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job          domain.Job
		typ, status  string
		metadataJSON []byte
		completedAt  *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&typ,
		&status,
		&job.TargetEntityID,
		&job.WorkspaceSessionID,
		&job.Request,
		&metadataJSON,
		&job.ErrorMessage,
		&job.DerivedAssetID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	job.Type = domain.JobType(typ)
	job.Status = domain.JobStatus(status)
	job.CompletedAt = completedAt
	job.Metadata = domain.Metadata{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return &job, nil
}

func marshalMetadata(m domain.Metadata) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 200:
		return 200
	default:
		return limit
	}
}
