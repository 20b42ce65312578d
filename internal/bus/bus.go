// Package bus fans job status changes out to push subscribers.
package bus

import (
	"context"
	"time"

	"genstudio/internal/domain"
)

// JobEvent is published after every recorded job transition.
type JobEvent struct {
	JobID         string           `json:"jobId"`
	OwnerID       string           `json:"ownerId"`
	Type          domain.JobType   `json:"type"`
	Status        domain.JobStatus `json:"status"`
	OutputURL     string           `json:"outputUrl,omitempty"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`
	StagedAssetID string           `json:"stagedAssetId,omitempty"`
	At            time.Time        `json:"at"`
}

// Bus publishes and subscribes to per-job events. Subscribe's channel is
// closed when ctx ends or the underlying subscription drops.
type Bus interface {
	Publish(ctx context.Context, ev JobEvent) error
	Subscribe(ctx context.Context, jobID string) (<-chan JobEvent, error)
	Close() error
}

// EventFromJob builds the event for a job snapshot.
func EventFromJob(job *domain.Job) JobEvent {
	ev := JobEvent{
		JobID:        job.ID,
		OwnerID:      job.OwnerID,
		Type:         job.Type,
		Status:       job.Status,
		OutputURL:    job.Metadata.String("output_url"),
		ErrorMessage: job.ErrorMessage,
		At:           job.UpdatedAt,
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	ev.StagedAssetID = job.Metadata.String("staged_asset_id")
	return ev
}
