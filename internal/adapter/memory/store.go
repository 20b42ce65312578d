// Package memory implements the domain repositories in process memory. It
// backs package tests and local runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"genstudio/internal/domain"
)

// Store holds every table behind one mutex so multi-record writes are atomic.
type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	jobs       map[string]domain.Job
	derived    map[string]domain.DerivedRecord // keyed by job id
	characters map[string]domain.Character
	previews   map[string]Preview
	staged     map[string]domain.StagedAsset
	library    map[string]domain.LibraryAsset
	cleanups   map[string]domain.CleanupIntent

	// CASHook runs before every compare-and-set; tests use it to simulate a
	// concurrent writer.
	CASHook func(jobID string)
}

// Preview is the preview state recorded on a character.
type Preview struct {
	Status domain.DerivedStatus
	URL    string
	Error  string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:        time.Now,
		jobs:       map[string]domain.Job{},
		derived:    map[string]domain.DerivedRecord{},
		characters: map[string]domain.Character{},
		previews:   map[string]Preview{},
		staged:     map[string]domain.StagedAsset{},
		library:    map[string]domain.LibraryAsset{},
		cleanups:   map[string]domain.CleanupIntent{},
	}
}

// Jobs returns the JobRepository view.
func (s *Store) Jobs() domain.JobRepository { return jobRepo{s} }

// Derived returns the DerivedRepository view.
func (s *Store) Derived() domain.DerivedRepository { return derivedRepo{s} }

// Characters returns the CharacterRepository view.
func (s *Store) Characters() domain.CharacterRepository { return characterRepo{s} }

// Staged returns the StagedAssetRepository view.
func (s *Store) Staged() domain.StagedAssetRepository { return stagedRepo{s} }

// Library returns the LibraryRepository view.
func (s *Store) Library() domain.LibraryRepository { return libraryRepo{s} }

// Cleanups returns the CleanupRepository view.
func (s *Store) Cleanups() domain.CleanupRepository { return cleanupRepo{s} }

// PutCharacter seeds a character.
func (s *Store) PutCharacter(c domain.Character) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.characters[c.ID] = c
}

// Preview returns the preview recorded for a character.
func (s *Store) Preview(characterID string) Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previews[characterID]
}

// CleanupIntents returns a snapshot of every intent.
func (s *Store) CleanupIntents() []domain.CleanupIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CleanupIntent, 0, len(s.cleanups))
	for _, in := range s.cleanups {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BackdateStaged moves a staged asset's creation time, for expiry tests.
func (s *Store) BackdateStaged(id string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.staged[id]; ok {
		a.CreatedAt = createdAt
		s.staged[id] = a
	}
}

func cloneJob(j domain.Job) *domain.Job {
	j.Metadata = domain.Metadata{}.Merge(j.Metadata)
	return &j
}

type jobRepo struct{ s *Store }

func (r jobRepo) Create(ctx context.Context, job *domain.Job, derived *domain.DerivedRecord) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	now := s.now()
	job.CreatedAt, job.UpdatedAt = now, now
	stored := *cloneJob(*job)
	s.jobs[job.ID] = stored
	if derived != nil {
		derived.ID = uuid.NewString()
		derived.JobID = job.ID
		derived.OwnerID = job.OwnerID
		if derived.Status == "" {
			derived.Status = domain.DerivedStatusPending
		}
		derived.CreatedAt, derived.UpdatedAt = now, now
		s.derived[job.ID] = *derived
	}
	return nil
}

func (r jobRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (r jobRepo) CompareAndSetStatus(ctx context.Context, jobID string, from, to domain.JobStatus, patch domain.JobPatch) (*domain.Job, bool, error) {
	s := r.s
	if s.CASHook != nil {
		s.CASHook(jobID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != from {
		return nil, false, nil
	}
	j.Status = to
	j.Metadata = j.Metadata.Merge(patch.Metadata)
	if patch.ErrorMessage != nil {
		j.ErrorMessage = *patch.ErrorMessage
	}
	if patch.DerivedAssetID != nil {
		id := *patch.DerivedAssetID
		j.DerivedAssetID = &id
	}
	now := s.now()
	j.UpdatedAt = now
	if to.IsTerminal() {
		j.CompletedAt = &now
	}
	s.jobs[jobID] = j
	return cloneJob(j), true, nil
}

func (r jobRepo) ListByOwner(ctx context.Context, ownerID, sessionID string, limit int) ([]domain.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.OwnerID != ownerID || (sessionID != "" && j.WorkspaceSessionID != sessionID) {
			continue
		}
		out = append(out, *cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type derivedRepo struct{ s *Store }

func (r derivedRepo) GetByJobID(ctx context.Context, kind domain.AssetKind, jobID string) (*domain.DerivedRecord, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.derived[jobID]
	if !ok || rec.Kind != kind {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (r derivedRepo) set(kind domain.AssetKind, jobID string, status domain.DerivedStatus, url, errMsg *string) (*domain.DerivedRecord, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.derived[jobID]
	if !ok || rec.Kind != kind {
		return nil, domain.ErrNotFound
	}
	if rec.Status.IsFinal() {
		return &rec, nil
	}
	rec.Status = status
	if url != nil {
		rec.URL = *url
	}
	if errMsg != nil {
		rec.ErrorMessage = *errMsg
	}
	rec.UpdatedAt = s.now()
	s.derived[jobID] = rec
	return &rec, nil
}

func (r derivedRepo) MarkGenerating(ctx context.Context, kind domain.AssetKind, jobID string) error {
	_, err := r.set(kind, jobID, domain.DerivedStatusGenerating, nil, nil)
	return err
}

func (r derivedRepo) MarkCompleted(ctx context.Context, kind domain.AssetKind, jobID, url string) (*domain.DerivedRecord, error) {
	empty := ""
	return r.set(kind, jobID, domain.DerivedStatusCompleted, &url, &empty)
}

func (r derivedRepo) MarkFailed(ctx context.Context, kind domain.AssetKind, jobID, errMsg string) error {
	_, err := r.set(kind, jobID, domain.DerivedStatusFailed, nil, &errMsg)
	return err
}

type characterRepo struct{ s *Store }

func (r characterRepo) GetByID(ctx context.Context, id string) (*domain.Character, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.characters[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r characterRepo) SetPreview(ctx context.Context, id string, status domain.DerivedStatus, url, errMsg string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.previews[id]
	if status != domain.DerivedStatusPending && p.Status.IsFinal() {
		return nil
	}
	p.Status = status
	if url != "" {
		p.URL = url
	}
	p.Error = errMsg
	s.previews[id] = p
	return nil
}

type stagedRepo struct{ s *Store }

func (r stagedRepo) CreateForJob(ctx context.Context, asset *domain.StagedAsset) (*domain.StagedAsset, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.staged {
		if existing.JobID == asset.JobID {
			e := existing
			return &e, nil
		}
	}
	a := *asset
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	s.staged[a.ID] = a
	return &a, nil
}

func (r stagedRepo) GetByID(ctx context.Context, id string) (*domain.StagedAsset, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.staged[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (r stagedRepo) ListByOwner(ctx context.Context, ownerID, sessionID string, limit int) ([]domain.StagedAsset, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StagedAsset
	for _, a := range s.staged {
		if a.OwnerID != ownerID || a.IsPromoted() || (sessionID != "" && a.WorkspaceSessionID != sessionID) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r stagedRepo) ListExpired(ctx context.Context, createdBefore time.Time, limit int) ([]domain.StagedAsset, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StagedAsset
	for _, a := range s.staged {
		if !a.IsPromoted() && a.CreatedAt.Before(createdBefore) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r stagedRepo) Delete(ctx context.Context, id string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.staged[id]
	if !ok || a.IsPromoted() {
		return domain.ErrNotFound
	}
	delete(s.staged, id)
	return nil
}

type libraryRepo struct{ s *Store }

func (r libraryRepo) Promote(ctx context.Context, p domain.Promotion) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.library {
		if existing.SourceStagedAssetID == p.Asset.SourceStagedAssetID {
			return domain.ErrAlreadyPromoted
		}
	}
	staged, ok := s.staged[p.StagedAssetID]
	if !ok {
		return domain.ErrNotFound
	}
	if staged.IsPromoted() {
		return domain.ErrAlreadyPromoted
	}
	now := s.now()
	asset := *p.Asset
	if asset.Visibility == "" {
		asset.Visibility = domain.VisibilityPrivate
	}
	asset.CreatedAt = now
	p.Asset.CreatedAt = now
	s.library[asset.ID] = asset

	libID := asset.ID
	staged.PromotedAt = &now
	staged.LibraryAssetID = &libID
	s.staged[staged.ID] = staged

	if in, ok := s.cleanups[p.CommittedKey.ID]; ok && in.Status == domain.CleanupStatusPending {
		in.Status = domain.CleanupStatusCancelled
		s.cleanups[in.ID] = in
	}
	if p.DeferredDelete.ObjectKey != "" {
		s.scheduleLocked(p.DeferredDelete)
	}
	return nil
}

func (r libraryRepo) GetByID(ctx context.Context, id string) (*domain.LibraryAsset, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.library[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

type cleanupRepo struct{ s *Store }

func (r cleanupRepo) Schedule(ctx context.Context, intent domain.CleanupIntent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.scheduleLocked(intent)
	return nil
}

func (s *Store) scheduleLocked(intent domain.CleanupIntent) {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if existing, ok := s.cleanups[intent.ID]; ok {
		if existing.Status == domain.CleanupStatusCancelled {
			return
		}
		intent.Attempts = existing.Attempts
	}
	intent.Status = domain.CleanupStatusPending
	intent.LastError = ""
	s.cleanups[intent.ID] = intent
}

func (r cleanupRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.CleanupIntent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.CleanupIntent
	for _, in := range s.cleanups {
		if in.Status == domain.CleanupStatusPending && !in.DueAt.After(now) {
			due = append(due, in)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].DueAt.Before(due[k].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Attempts++
		due[i].DueAt = now.Add(5 * time.Minute)
		s.cleanups[due[i].ID] = due[i]
	}
	return due, nil
}

func (r cleanupRepo) MarkDone(ctx context.Context, id string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.cleanups[id]; ok && in.Status == domain.CleanupStatusPending {
		in.Status = domain.CleanupStatusDone
		s.cleanups[id] = in
	}
	return nil
}

func (r cleanupRepo) MarkFailed(ctx context.Context, id, errMsg string, retryAt time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.cleanups[id]; ok && in.Status == domain.CleanupStatusPending {
		in.LastError = errMsg
		in.DueAt = retryAt
		s.cleanups[id] = in
	}
	return nil
}
