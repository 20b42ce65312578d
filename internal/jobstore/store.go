// Package jobstore owns job creation and the guarded status state machine.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

// maxCASAttempts bounds retries when concurrent writers keep winning the race.
const maxCASAttempts = 5

// NewJob describes a job to create.
type NewJob struct {
	Type               domain.JobType
	OwnerID            string
	TargetEntityID     string
	WorkspaceSessionID string
	Request            any
	Metadata           domain.Metadata
}

// Store is the single writer of job status.
type Store struct {
	jobs   domain.JobRepository
	logger infra.Logger
}

// New constructs a Store. A nil logger disables logging.
func New(jobs domain.JobRepository, logger *infra.Logger) *Store {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = logger.With().Str("component", "jobstore").Logger()
	}
	return &Store{jobs: jobs, logger: l}
}

// CreateJob persists a queued job. Image and video jobs get their derived
// record in the same transaction.
func (s *Store) CreateJob(ctx context.Context, in NewJob) (*domain.Job, error) {
	if _, err := domain.ParseJobType(string(in.Type)); err != nil {
		return nil, err
	}
	if in.OwnerID == "" {
		return nil, domain.ErrUnauthorized
	}
	var request []byte
	if in.Request != nil {
		b, err := json.Marshal(in.Request)
		if err != nil {
			return nil, fmt.Errorf("jobstore: encode request: %w", err)
		}
		request = b
	}

	job := &domain.Job{
		ID:                 uuid.NewString(),
		OwnerID:            in.OwnerID,
		Type:               in.Type,
		Status:             domain.JobStatusQueued,
		TargetEntityID:     in.TargetEntityID,
		WorkspaceSessionID: in.WorkspaceSessionID,
		Request:            request,
		Metadata:           domain.Metadata{}.Merge(in.Metadata),
	}
	if err := s.jobs.Create(ctx, job, derivedFor(job)); err != nil {
		return nil, fmt.Errorf("jobstore: create job: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("job queued")
	return job, nil
}

// GetJob returns a job or domain.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// ListJobs returns the owner's recent jobs.
func (s *Store) ListJobs(ctx context.Context, ownerID, sessionID string, limit int) ([]domain.Job, error) {
	return s.jobs.ListByOwner(ctx, ownerID, sessionID, limit)
}

// UpdateStatus moves a job to status and merges patch into it.
//
// A job that is already terminal is reported with AlreadyTerminal set and a
// nil error; nothing is written. A move the state machine forbids returns
// domain.ErrInvalidTransition.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, patch domain.JobPatch) (domain.Transition, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.jobs.GetByID(ctx, jobID)
		if err != nil {
			return domain.Transition{}, err
		}
		if current.Status.IsTerminal() {
			s.logger.Debug().
				Str("job_id", jobID).
				Str("status", string(current.Status)).
				Str("requested", string(status)).
				Msg("job already terminal")
			return domain.Transition{Job: current, From: current.Status, AlreadyTerminal: true}, nil
		}
		if !current.Status.CanTransition(status) {
			return domain.Transition{Job: current, From: current.Status},
				fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, status)
		}

		updated, ok, err := s.jobs.CompareAndSetStatus(ctx, jobID, current.Status, status, patch)
		if err != nil {
			return domain.Transition{}, fmt.Errorf("jobstore: update status: %w", err)
		}
		if ok {
			s.logger.Info().
				Str("job_id", jobID).
				Str("from", string(current.Status)).
				Str("status", string(status)).
				Msg("job status updated")
			return domain.Transition{Job: updated, From: current.Status}, nil
		}
		s.logger.Debug().Str("job_id", jobID).Int("attempt", attempt+1).Msg("status update lost race, retrying")
	}
	return domain.Transition{}, fmt.Errorf("jobstore: update status for %s: %w", jobID, errContention)
}

var errContention = errors.New("too many concurrent status updates")

func derivedFor(job *domain.Job) *domain.DerivedRecord {
	var kind domain.AssetKind
	switch job.Type {
	case domain.JobTypeImage:
		kind = domain.AssetKindImage
	case domain.JobTypeVideo:
		kind = domain.AssetKindVideo
	default:
		return nil
	}
	rec := &domain.DerivedRecord{
		Kind:   kind,
		Status: domain.DerivedStatusPending,
		Prompt: job.Metadata.String("prompt"),
		Model:  job.Metadata.String("model"),
	}
	if seed, ok := job.Metadata.Int64("seed"); ok {
		rec.Seed = &seed
	}
	if kind == domain.AssetKindVideo {
		if d, ok := job.Metadata.Float64("duration_seconds"); ok {
			rec.DurationSeconds = &d
		}
	}
	return rec
}
