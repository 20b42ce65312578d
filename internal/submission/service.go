// Package submission creates jobs and hands them to the worker.
package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"genstudio/internal/consistency"
	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/infra/geoip"
	"genstudio/internal/jobstore"
	"genstudio/internal/workerapi"
)

// ErrInvalidRequest marks a submission the caller must fix.
var ErrInvalidRequest = errors.New("invalid submission")

// workerUnavailableMessage is the categorized error stored on a job whose
// dispatch failed.
const workerUnavailableMessage = "worker unavailable"

const defaultPreviewScene = "character portrait, neutral background, soft studio lighting"

// Dispatcher sends a job to the worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, req workerapi.GenerateRequest) error
}

// Options configures the Service.
type Options struct {
	// CallbackURL is where the worker posts status updates.
	CallbackURL string
	// CallbackToken mints the bearer token the worker presents on callback.
	CallbackToken func(jobID string) (string, error)
	Geo           geoip.CountryResolver
	Logger        *infra.Logger
}

// Request is a job submission.
type Request struct {
	OwnerID            string
	JobType            string
	TargetEntityID     string
	WorkspaceSessionID string
	Metadata           domain.Metadata
	// Country is the caller's country when already known; otherwise it is
	// resolved from RemoteAddr.
	Country    string
	RemoteAddr string
}

// Service orchestrates job submission.
type Service struct {
	jobs       *jobstore.Store
	derived    domain.DerivedRepository
	characters domain.CharacterRepository
	worker     Dispatcher
	opts       Options
	logger     zerolog.Logger
}

// New constructs a submission service.
func New(jobs *jobstore.Store, derived domain.DerivedRepository, characters domain.CharacterRepository, worker Dispatcher, opts Options) *Service {
	l := zerolog.New(io.Discard)
	if opts.Logger != nil {
		l = opts.Logger.With().Str("component", "submission").Logger()
	}
	return &Service{jobs: jobs, derived: derived, characters: characters, worker: worker, opts: opts, logger: l}
}

// requestRecord is the dispatched request kept on the job for auditing.
type requestRecord struct {
	Prompt         string               `json:"prompt,omitempty"`
	NegativePrompt string               `json:"negative_prompt,omitempty"`
	Reference      *workerapi.Reference `json:"reference,omitempty"`
}

// Submit validates the request, compiles the character's consistency spec
// when one is referenced, creates the job and dispatches it. When dispatch
// fails the job is marked failed and the error wraps
// domain.ErrWorkerUnavailable; the failed job is still returned.
func (s *Service) Submit(ctx context.Context, req Request) (*domain.Job, error) {
	typ, err := domain.ParseJobType(req.JobType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, domain.ErrUnauthorized
	}

	md := domain.Metadata{}.Merge(req.Metadata)
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if country == "" {
		country = geoip.OriginCountry(s.opts.Geo, req.RemoteAddr)
	}
	if country != "" {
		md["origin_country"] = country
	}

	scene := md.String("prompt")
	negative := md.String("negative_prompt")
	characterID := md.String("character_id")

	switch typ {
	case domain.JobTypePreview:
		characterID = strings.TrimSpace(req.TargetEntityID)
		if characterID == "" {
			return nil, fmt.Errorf("%w: preview jobs need a target character", ErrInvalidRequest)
		}
		if scene == "" {
			scene = defaultPreviewScene
		}
	case domain.JobTypeEnhance:
		if scene == "" {
			return nil, fmt.Errorf("%w: enhance jobs need a prompt", ErrInvalidRequest)
		}
		characterID = ""
	default:
		if scene == "" {
			return nil, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
		}
	}

	gen := workerapi.GenerateRequest{Type: typ, Prompt: scene, NegativePrompt: negative}
	if characterID != "" {
		character, err := s.loadCharacter(ctx, req.OwnerID, characterID)
		if err != nil {
			return nil, err
		}
		spec := consistency.Compile(*character)
		consistency.ApplyTo(&gen, spec, scene, negative)
		md["character_id"] = character.ID
		if spec.Reference != nil && spec.Reference.Seed != nil {
			if _, ok := md["seed"]; !ok {
				md["seed"] = float64(*spec.Reference.Seed)
			}
		}
	}

	job, err := s.jobs.CreateJob(ctx, jobstore.NewJob{
		Type:               typ,
		OwnerID:            req.OwnerID,
		TargetEntityID:     strings.TrimSpace(req.TargetEntityID),
		WorkspaceSessionID: strings.TrimSpace(req.WorkspaceSessionID),
		Request:            requestRecord{Prompt: gen.Prompt, NegativePrompt: gen.NegativePrompt, Reference: gen.Reference},
		Metadata:           md,
	})
	if err != nil {
		return nil, err
	}

	if typ == domain.JobTypePreview {
		if err := s.characters.SetPreview(ctx, characterID, domain.DerivedStatusPending, "", ""); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Str("character_id", characterID).Msg("reset preview status")
		}
	}

	gen.JobID = job.ID
	gen.CallbackURL = s.opts.CallbackURL
	gen.Metadata = md
	if s.opts.CallbackToken != nil {
		token, err := s.opts.CallbackToken(job.ID)
		if err != nil {
			return s.fail(ctx, job, characterID, fmt.Errorf("submission: mint callback token: %w", err))
		}
		gen.CallbackToken = token
	}

	if err := s.worker.Dispatch(ctx, gen); err != nil {
		return s.fail(ctx, job, characterID, err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("type", string(typ)).Msg("job dispatched")
	return job, nil
}

func (s *Service) loadCharacter(ctx context.Context, ownerID, id string) (*domain.Character, error) {
	c, err := s.characters.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: character %s", ErrInvalidRequest, id)
		}
		return nil, err
	}
	if c.OwnerID != "" && c.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: character %s", ErrInvalidRequest, id)
	}
	return c, nil
}

func (s *Service) fail(ctx context.Context, job *domain.Job, characterID string, cause error) (*domain.Job, error) {
	s.logger.Error().Err(cause).Str("job_id", job.ID).Msg("dispatch failed")
	msg := workerUnavailableMessage
	tr, err := s.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, domain.JobPatch{ErrorMessage: &msg})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("mark undispatched job failed")
	} else if tr.Job != nil {
		job = tr.Job
	}
	switch job.Type {
	case domain.JobTypeImage:
		_ = s.derived.MarkFailed(ctx, domain.AssetKindImage, job.ID, msg)
	case domain.JobTypeVideo:
		_ = s.derived.MarkFailed(ctx, domain.AssetKindVideo, job.ID, msg)
	case domain.JobTypePreview:
		_ = s.characters.SetPreview(ctx, characterID, domain.DerivedStatusFailed, "", msg)
	}
	if errors.Is(cause, domain.ErrWorkerUnavailable) {
		return job, cause
	}
	return job, fmt.Errorf("%w: %v", domain.ErrWorkerUnavailable, cause)
}
