package jobstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"genstudio/internal/adapter/memory"
	"genstudio/internal/domain"
)

func newStore(t *testing.T) (*Store, *memory.Store) {
	t.Helper()
	mem := memory.New()
	return New(mem.Jobs(), nil), mem
}

func createJob(t *testing.T, s *Store, typ domain.JobType) *domain.Job {
	t.Helper()
	job, err := s.CreateJob(context.Background(), NewJob{
		Type:     typ,
		OwnerID:  "owner-1",
		Metadata: domain.Metadata{"prompt": "a lighthouse", "seed": float64(42)},
	})
	if err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	return job
}

func TestCreateJobQueuesWithDerivedRecord(t *testing.T) {
	s, mem := newStore(t)
	job := createJob(t, s, domain.JobTypeImage)
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}
	rec, err := mem.Derived().GetByJobID(context.Background(), domain.AssetKindImage, job.ID)
	if err != nil {
		t.Fatalf("derived record missing: %v", err)
	}
	if rec.Status != domain.DerivedStatusPending || rec.Prompt != "a lighthouse" || rec.Seed == nil || *rec.Seed != 42 {
		t.Fatalf("unexpected derived record %#v", rec)
	}
}

func TestCreateJobRejectsUnknownType(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.CreateJob(context.Background(), NewJob{Type: "upscale", OwnerID: "o"})
	if !errors.Is(err, domain.ErrInvalidJobType) {
		t.Fatalf("expected ErrInvalidJobType, got %v", err)
	}
}

func TestTerminalTransitionIsIdempotent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	job := createJob(t, s, domain.JobTypeImage)

	first, err := s.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, domain.JobPatch{})
	if err != nil || first.AlreadyTerminal {
		t.Fatalf("first completion = %+v, %v", first, err)
	}
	completedAt := first.Job.CompletedAt

	second, err := s.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, domain.JobPatch{Metadata: domain.Metadata{"late": true}})
	if err != nil {
		t.Fatalf("duplicate completion returned error: %v", err)
	}
	if !second.AlreadyTerminal {
		t.Fatalf("duplicate completion should report AlreadyTerminal")
	}
	if _, ok := second.Job.Metadata["late"]; ok {
		t.Fatalf("terminal job must not be modified")
	}
	if second.Job.CompletedAt == nil || !second.Job.CompletedAt.Equal(*completedAt) {
		t.Fatalf("completed_at changed")
	}
}

func TestNoForwardTransitionAfterTerminal(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	job := createJob(t, s, domain.JobTypeVideo)
	if _, err := s.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, domain.JobPatch{}); err != nil {
		t.Fatalf("fail job: %v", err)
	}
	for _, next := range []domain.JobStatus{domain.JobStatusProcessing, domain.JobStatusUploading, domain.JobStatusCompleted} {
		tr, err := s.UpdateStatus(ctx, job.ID, next, domain.JobPatch{})
		if err != nil || !tr.AlreadyTerminal || tr.Job.Status != domain.JobStatusFailed {
			t.Fatalf("%s after failed = %+v, %v", next, tr, err)
		}
	}
}

func TestMetadataIsMergedAcrossUpdates(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	job := createJob(t, s, domain.JobTypeEnhance)
	if _, err := s.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, domain.JobPatch{Metadata: domain.Metadata{"a": 1}}); err != nil {
		t.Fatalf("update a: %v", err)
	}
	tr, err := s.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, domain.JobPatch{Metadata: domain.Metadata{"b": 2}})
	if err != nil {
		t.Fatalf("update b: %v", err)
	}
	md := tr.Job.Metadata
	if md["a"] != 1 || md["b"] != 2 || md.String("prompt") != "a lighthouse" {
		t.Fatalf("metadata not merged: %#v", md)
	}
}

func TestInvalidTransition(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	job := createJob(t, s, domain.JobTypeImage)
	if _, err := s.UpdateStatus(ctx, job.ID, domain.JobStatusUploading, domain.JobPatch{}); err != nil {
		t.Fatalf("queued -> uploading: %v", err)
	}
	_, err := s.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, domain.JobPatch{})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUnknownJob(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.UpdateStatus(context.Background(), "missing", domain.JobStatusCompleted, domain.JobPatch{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLostRaceAgainstTerminalWriterReportsAlreadyTerminal(t *testing.T) {
	s, mem := newStore(t)
	ctx := context.Background()
	job := createJob(t, s, domain.JobTypeImage)

	var once sync.Once
	mem.CASHook = func(id string) {
		once.Do(func() {
			// A concurrent writer completes the job between our read and write.
			if _, _, err := mem.Jobs().CompareAndSetStatus(ctx, id, domain.JobStatusQueued, domain.JobStatusCompleted, domain.JobPatch{}); err != nil {
				t.Errorf("concurrent write: %v", err)
			}
		})
	}
	tr, err := s.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, domain.JobPatch{})
	if err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	if !tr.AlreadyTerminal || tr.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected AlreadyTerminal completed, got %+v", tr)
	}
}

func TestConcurrentTerminalUpdatesRecordExactlyOne(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	job := createJob(t, s, domain.JobTypeImage)

	const writers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < writers; i++ {
		status := domain.JobStatusCompleted
		if i%2 == 1 {
			status = domain.JobStatusFailed
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := s.UpdateStatus(ctx, job.ID, status, domain.JobPatch{})
			if err != nil {
				t.Errorf("UpdateStatus error: %v", err)
				return
			}
			if !tr.AlreadyTerminal {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if applied != 1 {
		t.Fatalf("terminal transitions applied = %d, want 1", applied)
	}
}
