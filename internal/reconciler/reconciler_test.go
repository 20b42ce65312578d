package reconciler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"genstudio/internal/adapter/memory"
	"genstudio/internal/bus"
	"genstudio/internal/domain"
	"genstudio/internal/jobstore"
	"genstudio/internal/staging"
	"genstudio/internal/storage"
)

type harness struct {
	rec    *Reconciler
	jobs   *jobstore.Store
	mem    *memory.Store
	events *bus.LocalBus
	output string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith lets wrap replace the stager handed to the reconciler.
func newHarnessWith(t *testing.T, wrap func(*staging.Service) Stager) *harness {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	t.Cleanup(srv.Close)

	files, err := storage.NewFileStore(t.TempDir(), "http://localhost/files", []byte("secret"))
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	mem := memory.New()
	stager := staging.New(mem.Staged(), mem.Library(), mem.Cleanups(), files, staging.Options{
		StagingBucket: "staging",
		LibraryBucket: "library",
	})
	jobs := jobstore.New(mem.Jobs(), nil)
	events := bus.NewLocalBus(16)
	t.Cleanup(func() { _ = events.Close() })

	var st Stager = stager
	if wrap != nil {
		st = wrap(stager)
	}
	return &harness{
		rec:    New(jobs, mem.Derived(), mem.Characters(), st, events, nil),
		jobs:   jobs,
		mem:    mem,
		events: events,
		output: srv.URL + "/img.png",
	}
}

func (h *harness) create(t *testing.T, typ domain.JobType, target string) *domain.Job {
	t.Helper()
	job, err := h.jobs.CreateJob(context.Background(), jobstore.NewJob{
		Type:           typ,
		OwnerID:        "owner-1",
		TargetEntityID: target,
		Metadata:       domain.Metadata{"prompt": "a castle"},
	})
	if err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	return job
}

func (h *harness) subscribe(t *testing.T, jobID string) <-chan bus.JobEvent {
	t.Helper()
	ch, err := h.events.Subscribe(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	return ch
}

func drain(ch <-chan bus.JobEvent) []bus.JobEvent {
	var out []bus.JobEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestImageJobLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.create(t, domain.JobTypeImage, "")
	events := h.subscribe(t, job.ID)

	if _, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "processing"}); err != nil {
		t.Fatalf("processing callback: %v", err)
	}
	rec, _ := h.mem.Derived().GetByJobID(ctx, domain.AssetKindImage, job.ID)
	if rec.Status != domain.DerivedStatusGenerating {
		t.Fatalf("derived status = %s, want generating", rec.Status)
	}

	res, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "completed", OutputURL: h.output})
	if err != nil {
		t.Fatalf("completed callback: %v", err)
	}
	if res.Duplicate || res.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("unexpected result %+v", res)
	}
	rec, _ = h.mem.Derived().GetByJobID(ctx, domain.AssetKindImage, job.ID)
	if rec.Status != domain.DerivedStatusCompleted || rec.URL != h.output {
		t.Fatalf("derived record = %#v", rec)
	}
	if res.Job.DerivedAssetID == nil || *res.Job.DerivedAssetID != rec.ID {
		t.Fatalf("derived_asset_id not set: %#v", res.Job)
	}
	if res.StagedAsset == nil || res.Job.Metadata.String("staged_asset_id") != res.StagedAsset.ID {
		t.Fatalf("staged asset not linked: %#v", res.Job.Metadata)
	}
	if res.Job.Metadata.String("prompt") != "a castle" || res.Job.Metadata.String("output_url") != h.output {
		t.Fatalf("metadata not merged: %#v", res.Job.Metadata)
	}

	got := drain(events)
	if len(got) != 2 || got[0].Status != domain.JobStatusProcessing || got[1].Status != domain.JobStatusCompleted {
		t.Fatalf("events = %+v", got)
	}
	if got[1].StagedAssetID != res.StagedAsset.ID {
		t.Fatalf("completed event missing staged asset id")
	}
}

func TestDuplicateCompletedCallbackIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.create(t, domain.JobTypeImage, "")
	cb := Callback{JobID: job.ID, Status: "completed", OutputURL: h.output}
	if _, err := h.rec.Apply(ctx, cb); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	before, _ := h.mem.Derived().GetByJobID(ctx, domain.AssetKindImage, job.ID)
	events := h.subscribe(t, job.ID)

	res, err := h.rec.Apply(ctx, cb)
	if err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}
	if !res.Duplicate {
		t.Fatalf("expected Duplicate result")
	}
	after, _ := h.mem.Derived().GetByJobID(ctx, domain.AssetKindImage, job.ID)
	if *after != *before {
		t.Fatalf("derived record changed: %#v -> %#v", before, after)
	}
	if got := drain(events); len(got) != 0 {
		t.Fatalf("duplicate callback published %d events", len(got))
	}
}

func TestLateFailureAfterCompletionKeepsCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.create(t, domain.JobTypeVideo, "")
	if _, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "completed", OutputURL: h.output}); err != nil {
		t.Fatalf("completed: %v", err)
	}
	res, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "failed", ErrorMessage: "late"})
	if err != nil || !res.Duplicate || res.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("late failure = %+v, %v", res, err)
	}
	rec, _ := h.mem.Derived().GetByJobID(ctx, domain.AssetKindVideo, job.ID)
	if rec.Status != domain.DerivedStatusCompleted || rec.ErrorMessage != "" {
		t.Fatalf("derived record regressed: %#v", rec)
	}
}

func TestFailedCallbackStoresMessageVerbatim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.create(t, domain.JobTypeImage, "")
	msg := "CUDA out of memory (device 0)"
	res, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "failed", ErrorMessage: msg})
	if err != nil {
		t.Fatalf("failed callback: %v", err)
	}
	if res.Job.Status != domain.JobStatusFailed || res.Job.ErrorMessage != msg {
		t.Fatalf("job = %#v", res.Job)
	}
	rec, _ := h.mem.Derived().GetByJobID(ctx, domain.AssetKindImage, job.ID)
	if rec.Status != domain.DerivedStatusFailed || rec.ErrorMessage != msg {
		t.Fatalf("derived record = %#v", rec)
	}
}

func TestStaleProcessingCallbackIsAccepted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.create(t, domain.JobTypeImage, "")
	if _, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "uploading"}); err != nil {
		t.Fatalf("uploading: %v", err)
	}
	res, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "processing"})
	if err != nil || !res.Stale || res.Job.Status != domain.JobStatusUploading {
		t.Fatalf("stale callback = %+v, %v", res, err)
	}
}

func TestEnhanceStoresPromptInMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.create(t, domain.JobTypeEnhance, "")
	res, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "completed", EnhancedPrompt: " a gothic castle at dusk "})
	if err != nil {
		t.Fatalf("enhance callback: %v", err)
	}
	md := res.Job.Metadata
	if md.String("enhanced_prompt_text") != "a gothic castle at dusk" || md.String("prompt") != "a castle" {
		t.Fatalf("metadata = %#v", md)
	}
	if res.Job.DerivedAssetID != nil {
		t.Fatalf("enhance jobs have no derived record")
	}
}

func TestPreviewUpdatesCharacter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.PutCharacter(domain.Character{ID: "char-1", OwnerID: "owner-1", Name: "Mira"})
	job := h.create(t, domain.JobTypePreview, "char-1")

	if _, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "completed", OutputURL: "https://cdn/mira.png"}); err != nil {
		t.Fatalf("preview callback: %v", err)
	}
	p := h.mem.Preview("char-1")
	if p.Status != domain.DerivedStatusCompleted || p.URL != "https://cdn/mira.png" {
		t.Fatalf("preview = %#v", p)
	}
}

func TestPreviewForMissingCharacterStillCompletes(t *testing.T) {
	h := newHarness(t)
	job := h.create(t, domain.JobTypePreview, "gone")
	res, err := h.rec.Apply(context.Background(), Callback{JobID: job.ID, Status: "completed", OutputURL: "https://cdn/x.png"})
	if err != nil || res.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("result = %+v, %v", res, err)
	}
}

func TestUnknownJob(t *testing.T) {
	h := newHarness(t)
	_, err := h.rec.Apply(context.Background(), Callback{JobID: "missing", Status: "completed", OutputURL: "https://x"})
	if !errors.Is(err, domain.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestMalformedCallbacks(t *testing.T) {
	h := newHarness(t)
	job := h.create(t, domain.JobTypeImage, "")
	tests := []struct {
		name string
		cb   Callback
	}{
		{name: "missing job id", cb: Callback{Status: "completed"}},
		{name: "unknown status", cb: Callback{JobID: job.ID, Status: "done"}},
		{name: "queued", cb: Callback{JobID: job.ID, Status: "queued"}},
		{name: "completed without output", cb: Callback{JobID: job.ID, Status: "completed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.rec.Apply(context.Background(), tt.cb); !errors.Is(err, domain.ErrInvalidCallback) {
				t.Fatalf("expected ErrInvalidCallback, got %v", err)
			}
		})
	}
	got, _ := h.jobs.GetJob(context.Background(), job.ID)
	if got.Status != domain.JobStatusQueued {
		t.Fatalf("malformed callbacks changed the job: %s", got.Status)
	}
}

func TestStagingFailureLeavesJobRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.create(t, domain.JobTypeImage, "")
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	if _, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "completed", OutputURL: broken.URL + "/x.png"}); err == nil {
		t.Fatalf("expected staging error")
	}
	got, _ := h.jobs.GetJob(ctx, job.ID)
	if got.Status.IsTerminal() {
		t.Fatalf("job must stay non-terminal after a staging failure")
	}
	if _, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "completed", OutputURL: h.output}); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
}


// racingStager lets a failure callback land while a completed callback is
// still staging its artifact.
type racingStager struct {
	*staging.Service
	before func()
	staged *domain.StagedAsset
}

func (s *racingStager) Stage(ctx context.Context, job *domain.Job, output string) (*domain.StagedAsset, error) {
	s.before()
	asset, err := s.Service.Stage(ctx, job, output)
	s.staged = asset
	return asset, err
}

func TestCompletedLosingToFailureWithdrawsStagedAsset(t *testing.T) {
	ctx := context.Background()
	racer := &racingStager{}
	h := newHarnessWith(t, func(svc *staging.Service) Stager {
		racer.Service = svc
		return racer
	})
	job := h.create(t, domain.JobTypeImage, "")

	racer.before = func() {
		other := New(h.jobs, h.mem.Derived(), h.mem.Characters(), nil, nil, nil)
		if _, err := other.Apply(ctx, Callback{JobID: job.ID, Status: "failed", ErrorMessage: "worker crashed"}); err != nil {
			t.Errorf("failed callback: %v", err)
		}
	}

	res, err := h.rec.Apply(ctx, Callback{JobID: job.ID, Status: "completed", OutputURL: h.output})
	if err != nil {
		t.Fatalf("completed callback: %v", err)
	}
	if !res.Duplicate || res.StagedAsset != nil || res.Job.Status != domain.JobStatusFailed {
		t.Fatalf("result = %+v, want duplicate on a failed job with nothing staged", res)
	}
	if racer.staged == nil {
		t.Fatalf("stager was not reached")
	}
	if _, err := h.mem.Staged().GetByID(ctx, racer.staged.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("staged asset still present: %v", err)
	}
	rec, _ := h.mem.Derived().GetByJobID(ctx, domain.AssetKindImage, job.ID)
	if rec.Status != domain.DerivedStatusFailed {
		t.Fatalf("derived status = %s, want failed", rec.Status)
	}
}
