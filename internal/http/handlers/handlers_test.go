package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"genstudio/internal/bus"
	"genstudio/internal/domain"
	"genstudio/internal/middleware"
	"genstudio/internal/observer"
	"genstudio/internal/staging"
)

type stubWorkspace struct {
	err error
}

func (s stubWorkspace) Get(ctx context.Context, ownerID, id string) (*domain.StagedAsset, error) {
	return nil, s.err
}

func (s stubWorkspace) List(ctx context.Context, ownerID, sessionID string, limit int) ([]domain.StagedAsset, error) {
	return nil, s.err
}

func (s stubWorkspace) Promote(ctx context.Context, ownerID, stagedID string, opts staging.PromoteOptions) (*domain.LibraryAsset, error) {
	return nil, s.err
}

func (s stubWorkspace) Discard(ctx context.Context, ownerID, stagedID string) error { return s.err }
func (s stubWorkspace) StagingBucket() string                                   { return "staging" }
func (s stubWorkspace) LibraryBucket() string                                   { return "library" }

func TestWorkspaceActionErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "already promoted", err: domain.ErrAlreadyPromoted, status: http.StatusConflict, code: "already_promoted"},
		{name: "wrapped not found", err: errors.Join(errors.New("lookup"), domain.ErrNotFound), status: http.StatusNotFound, code: "not_found"},
		{name: "storage failure", err: errors.New("gcs: copy object: 503 backend error"), status: http.StatusInternalServerError, code: "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := &App{Workspace: stubWorkspace{err: tc.err}}
			req := httptest.NewRequest(http.MethodPost, "/v1/workspace/actions", strings.NewReader(`{"action":"save_to_library","assetId":"s1"}`))
			req = req.WithContext(middleware.ContextWithUserID(req.Context(), "user-1"))
			rec := httptest.NewRecorder()
			app.WorkspaceAction(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			var body struct {
				Error struct{ Code, Message string } `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != tc.code {
				t.Fatalf("code = %q, want %q", body.Error.Code, tc.code)
			}
			if strings.Contains(body.Error.Message, "gcs") {
				t.Fatalf("internal detail leaked: %q", body.Error.Message)
			}
		})
	}
}

func TestWorkspaceActionRequiresUser(t *testing.T) {
	app := &App{Workspace: stubWorkspace{}}
	rec := httptest.NewRecorder()
	app.WorkspaceAction(rec, httptest.NewRequest(http.MethodPost, "/v1/workspace/actions", strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSnapshotFromEventKeepsKnownFields(t *testing.T) {
	prev := observer.Snapshot{JobID: "j1", Type: domain.JobTypeImage, Status: domain.JobStatusProcessing, DerivedAssetID: "img-1"}
	snap := snapshotFromEvent(bus.JobEvent{JobID: "j1", Status: domain.JobStatusCompleted, StagedAssetID: "s1"}, prev)
	if snap.Type != domain.JobTypeImage || snap.DerivedAssetID != "img-1" || snap.StagedAssetID != "s1" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestQueryLimit(t *testing.T) {
	for raw, want := range map[string]int{"": 0, "abc": 0, "-1": 0, "25": 25} {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs?limit="+raw, nil)
		if got := queryLimit(req); got != want {
			t.Fatalf("queryLimit(%q) = %d, want %d", raw, got, want)
		}
	}
}
