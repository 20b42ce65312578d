// Package reconciler applies worker callbacks to jobs and their derived
// records.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/bus"
	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/jobstore"
)

// defaultFailureMessage is stored when a worker reports failure without a reason.
const defaultFailureMessage = "generation failed"

var errMissingOutput = fmt.Errorf("%w: completed callback without outputUrl", domain.ErrInvalidCallback)

// Callback is the payload a worker posts when a job changes state.
type Callback struct {
	JobID          string `json:"jobId"`
	Status         string `json:"status"`
	OutputURL      string `json:"outputUrl,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	EnhancedPrompt string `json:"enhancedPrompt,omitempty"`
}

// Result describes what Apply did.
type Result struct {
	Job *domain.Job
	// Duplicate is set when the job was already terminal; nothing changed.
	Duplicate bool
	// Stale is set when the callback reports a state the job has moved past.
	Stale       bool
	StagedAsset *domain.StagedAsset
}

// Stager records the artifact of a completed image or video job.
type Stager interface {
	Stage(ctx context.Context, job *domain.Job, output string) (*domain.StagedAsset, error)
}

// withdrawer is implemented by stagers that can remove an asset staged for a
// job that ended another way.
type withdrawer interface {
	Discard(ctx context.Context, ownerID, stagedID string) error
}

// Publisher receives an event after every recorded transition.
type Publisher interface {
	Publish(ctx context.Context, ev bus.JobEvent) error
}

// Reconciler is the single entry point for worker callbacks.
type Reconciler struct {
	jobs       *jobstore.Store
	derived    domain.DerivedRepository
	characters domain.CharacterRepository
	stager     Stager
	events     Publisher
	logger     zerolog.Logger
	now        func() time.Time
}

// New constructs a Reconciler. stager and events may be nil.
func New(jobs *jobstore.Store, derived domain.DerivedRepository, characters domain.CharacterRepository, stager Stager, events Publisher, logger *infra.Logger) *Reconciler {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = logger.With().Str("component", "reconciler").Logger()
	}
	return &Reconciler{
		jobs:       jobs,
		derived:    derived,
		characters: characters,
		stager:     stager,
		events:     events,
		logger:     l,
		now:        time.Now,
	}
}

// Apply reconciles one callback.
//
// Derived-record and staging writes happen before the job's own transition.
// They are idempotent and never move a final record, so when any of them
// fails the job stays non-terminal and a redelivered callback re-applies
// cleanly.
func (r *Reconciler) Apply(ctx context.Context, cb Callback) (Result, error) {
	status, err := validate(cb)
	if err != nil {
		return Result{}, err
	}

	job, err := r.jobs.GetJob(ctx, cb.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Error().Str("job_id", cb.JobID).Str("status", string(status)).Msg("callback for unknown job")
			return Result{}, fmt.Errorf("%w: %s", domain.ErrUnknownJob, cb.JobID)
		}
		return Result{}, err
	}
	if job.Status.IsTerminal() {
		r.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Str("callback_status", string(status)).
			Msg("duplicate callback ignored")
		return Result{Job: job, Duplicate: true}, nil
	}
	if !job.Status.CanTransition(status) {
		return r.stale(job, status), nil
	}

	kind, err := job.Kind()
	if err != nil {
		return Result{}, err
	}

	patch := domain.JobPatch{Metadata: domain.Metadata{
		"last_callback_status": string(status),
		"last_callback_at":     r.now().UTC().Format(time.RFC3339),
	}}
	if cb.OutputURL != "" {
		patch.Metadata["output_url"] = cb.OutputURL
	}
	if status == domain.JobStatusFailed {
		msg := cb.ErrorMessage
		if msg == "" {
			msg = defaultFailureMessage
		}
		patch.ErrorMessage = &msg
	}

	var res Result
	switch k := kind.(type) {
	case domain.ImageJob:
		res.StagedAsset, err = r.applyAsset(ctx, k.Job, domain.AssetKindImage, status, cb, &patch)
	case domain.VideoJob:
		res.StagedAsset, err = r.applyAsset(ctx, k.Job, domain.AssetKindVideo, status, cb, &patch)
	case domain.PreviewJob:
		err = r.applyPreview(ctx, k, status, cb)
	case domain.EnhanceJob:
		r.applyEnhance(status, cb, &patch)
	default:
		err = fmt.Errorf("%w: %T", domain.ErrInvalidJobType, kind)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Str("status", string(status)).Msg("apply callback to derived record")
		return Result{}, err
	}

	tr, err := r.jobs.UpdateStatus(ctx, job.ID, status, patch)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) && tr.Job != nil {
			return r.stale(tr.Job, status), nil
		}
		return Result{}, err
	}
	res.Job = tr.Job
	if tr.AlreadyTerminal {
		res.Duplicate = true
		if res.StagedAsset != nil && tr.Job.Status != status {
			r.withdraw(ctx, tr.Job, res.StagedAsset)
			res.StagedAsset = nil
		}
		return res, nil
	}

	r.publish(ctx, tr.Job)
	return res, nil
}

func (r *Reconciler) applyAsset(ctx context.Context, job *domain.Job, kind domain.AssetKind, status domain.JobStatus, cb Callback, patch *domain.JobPatch) (*domain.StagedAsset, error) {
	switch status {
	case domain.JobStatusProcessing, domain.JobStatusUploading:
		return nil, r.derived.MarkGenerating(ctx, kind, job.ID)
	case domain.JobStatusFailed:
		return nil, r.derived.MarkFailed(ctx, kind, job.ID, *patch.ErrorMessage)
	case domain.JobStatusCompleted:
		if strings.TrimSpace(cb.OutputURL) == "" {
			return nil, errMissingOutput
		}
		var staged *domain.StagedAsset
		if r.stager != nil {
			var err error
			staged, err = r.stager.Stage(ctx, job, cb.OutputURL)
			if err != nil {
				return nil, err
			}
			patch.Metadata["staged_asset_id"] = staged.ID
		}
		rec, err := r.derived.MarkCompleted(ctx, kind, job.ID, cb.OutputURL)
		if err != nil {
			return nil, err
		}
		patch.DerivedAssetID = &rec.ID
		return staged, nil
	}
	return nil, nil
}

func (r *Reconciler) applyPreview(ctx context.Context, k domain.PreviewJob, status domain.JobStatus, cb Callback) error {
	var err error
	switch status {
	case domain.JobStatusProcessing, domain.JobStatusUploading:
		err = r.characters.SetPreview(ctx, k.CharacterID, domain.DerivedStatusGenerating, "", "")
	case domain.JobStatusCompleted:
		if strings.TrimSpace(cb.OutputURL) == "" {
			return errMissingOutput
		}
		err = r.characters.SetPreview(ctx, k.CharacterID, domain.DerivedStatusCompleted, cb.OutputURL, "")
	case domain.JobStatusFailed:
		msg := cb.ErrorMessage
		if msg == "" {
			msg = defaultFailureMessage
		}
		err = r.characters.SetPreview(ctx, k.CharacterID, domain.DerivedStatusFailed, "", msg)
	}
	if errors.Is(err, domain.ErrNotFound) {
		// The character was deleted mid-generation; the job still finishes.
		r.logger.Warn().Str("job_id", k.Job.ID).Str("character_id", k.CharacterID).Msg("preview target missing")
		return nil
	}
	return err
}

func (r *Reconciler) applyEnhance(status domain.JobStatus, cb Callback, patch *domain.JobPatch) {
	if status == domain.JobStatusCompleted && strings.TrimSpace(cb.EnhancedPrompt) != "" {
		patch.Metadata["enhanced_prompt_text"] = strings.TrimSpace(cb.EnhancedPrompt)
	}
}

func (r *Reconciler) stale(job *domain.Job, status domain.JobStatus) Result {
	r.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Str("callback_status", string(status)).
		Msg("stale callback ignored")
	return Result{Job: job, Stale: true}
}

// withdraw removes an asset staged by a completed callback that lost the race
// to a concurrent failure. The derived record is left as written; it never
// leaves a final status.
func (r *Reconciler) withdraw(ctx context.Context, job *domain.Job, staged *domain.StagedAsset) {
	w, ok := r.stager.(withdrawer)
	if !ok {
		return
	}
	if err := w.Discard(ctx, job.OwnerID, staged.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Str("asset_id", staged.ID).Msg("withdraw staged asset")
		return
	}
	r.logger.Info().Str("job_id", job.ID).Str("asset_id", staged.ID).Msg("staged asset withdrawn after job failed")
}

func (r *Reconciler) publish(ctx context.Context, job *domain.Job) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, bus.EventFromJob(job)); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("publish job event")
	}
}

func validate(cb Callback) (domain.JobStatus, error) {
	if strings.TrimSpace(cb.JobID) == "" {
		return "", fmt.Errorf("%w: jobId is required", domain.ErrInvalidCallback)
	}
	status, err := domain.ParseJobStatus(cb.Status)
	if err != nil || status == domain.JobStatusQueued {
		return "", fmt.Errorf("%w: status %q", domain.ErrInvalidCallback, cb.Status)
	}
	return status, nil
}
