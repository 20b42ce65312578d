package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// CleanupRepositoryPG implements domain.CleanupRepository over storage_cleanups.
type CleanupRepositoryPG struct {
	db infra.SQLExecutor
}

// NewCleanupRepository constructs a cleanup intent repository.
func NewCleanupRepository(db infra.SQLExecutor) *CleanupRepositoryPG {
	return &CleanupRepositoryPG{db: db}
}

// Schedule records a pending intent. Re-scheduling an existing id re-arms it
// unless it was cancelled by a committed operation.
func (r *CleanupRepositoryPG) Schedule(ctx context.Context, intent domain.CleanupIntent) error {
	return scheduleCleanup(ctx, r.db, intent)
}

// ClaimDue leases up to limit due intents.
func (r *CleanupRepositoryPG) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.CleanupIntent, error) {
	rows, err := r.db.Query(ctx, sqlinline.QClaimDueCleanups, now, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []domain.CleanupIntent
	for rows.Next() {
		var (
			in     domain.CleanupIntent
			status string
		)
		if err := rows.Scan(&in.ID, &in.Bucket, &in.ObjectKey, &in.Reason, &in.RefID, &status, &in.Attempts, &in.DueAt, &in.LastError); err != nil {
			return nil, err
		}
		in.Status = domain.CleanupStatus(status)
		intents = append(intents, in)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return intents, nil
}

// MarkDone closes an executed intent.
func (r *CleanupRepositoryPG) MarkDone(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, sqlinline.QMarkCleanupDone, id)
	return err
}

// MarkFailed keeps the intent pending and pushes it to retryAt.
func (r *CleanupRepositoryPG) MarkFailed(ctx context.Context, id, errMsg string, retryAt time.Time) error {
	_, err := r.db.Exec(ctx, sqlinline.QMarkCleanupFailed, id, errMsg, retryAt)
	return err
}

func scheduleCleanup(ctx context.Context, db infra.SQLExecutor, intent domain.CleanupIntent) error {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	_, err := db.Exec(ctx, sqlinline.QScheduleCleanup,
		intent.ID,
		intent.Bucket,
		intent.ObjectKey,
		intent.Reason,
		intent.RefID,
		intent.DueAt,
	)
	return err
}
