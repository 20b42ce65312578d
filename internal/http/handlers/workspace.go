package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"genstudio/internal/domain"
	"genstudio/internal/staging"
)

const (
	actionSaveToLibrary = "save_to_library"
	actionDiscardAsset  = "discard_asset"
)

type workspaceActionRequest struct {
	Action       string   `json:"action"`
	AssetID      string   `json:"assetId"`
	Title        string   `json:"title"`
	CollectionID string   `json:"collectionId"`
	Tags         []string `json:"tags"`
	Visibility   string   `json:"visibility"`
}

type workspaceActionResponse struct {
	Success        bool   `json:"success"`
	LibraryAssetID string `json:"libraryAssetId,omitempty"`
}

// WorkspaceAction handles POST /v1/workspace/actions.
func (a *App) WorkspaceAction(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", msgUnauthorized)
		return
	}
	var req workspaceActionRequest
	if err := a.decode(w, r, &req); err != nil || strings.TrimSpace(req.AssetID) == "" {
		a.error(w, r, http.StatusBadRequest, "bad_request", msgInvalidPayload)
		return
	}

	switch req.Action {
	case actionSaveToLibrary:
		lib, err := a.Workspace.Promote(r.Context(), userID, req.AssetID, staging.PromoteOptions{
			Title:        req.Title,
			CollectionID: req.CollectionID,
			Tags:         req.Tags,
			Visibility:   domain.ParseVisibility(req.Visibility),
		})
		if err != nil {
			a.workspaceError(w, r, err)
			return
		}
		a.Logger.Info().Str("asset_id", req.AssetID).Str("library_asset_id", lib.ID).Msg("asset saved to library")
		a.json(w, http.StatusOK, workspaceActionResponse{Success: true, LibraryAssetID: lib.ID})
	case actionDiscardAsset:
		if err := a.Workspace.Discard(r.Context(), userID, req.AssetID); err != nil {
			a.workspaceError(w, r, err)
			return
		}
		a.json(w, http.StatusOK, workspaceActionResponse{Success: true})
	default:
		a.error(w, r, http.StatusBadRequest, "bad_request", msgUnknownAction)
	}
}

func (a *App) workspaceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadyPromoted):
		a.error(w, r, http.StatusConflict, "already_promoted", msgAlreadyPromoted)
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, r, http.StatusNotFound, "not_found", msgAssetNotFound)
	default:
		a.internalError(w, r, err, "workspace action")
	}
}

// ListStaged handles GET /v1/workspace/staged?session=&limit=.
func (a *App) ListStaged(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", msgUnauthorized)
		return
	}
	assets, err := a.Workspace.List(r.Context(), userID, r.URL.Query().Get("session"), queryLimit(r))
	if err != nil {
		a.internalError(w, r, err, "list staged assets")
		return
	}
	items := make([]stagedView, 0, len(assets))
	for i := range assets {
		items = append(items, a.stagedView(r.Context(), &assets[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// GetStaged handles GET /v1/workspace/staged/{id}.
func (a *App) GetStaged(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", msgUnauthorized)
		return
	}
	asset, err := a.Workspace.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.notFoundOr(w, r, err, msgAssetNotFound)
		return
	}
	a.json(w, http.StatusOK, a.stagedView(r.Context(), asset))
}

// GetLibraryAsset handles GET /v1/library/{id}.
func (a *App) GetLibraryAsset(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", msgUnauthorized)
		return
	}
	asset, err := a.Library.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.notFoundOr(w, r, err, msgAssetNotFound)
		return
	}
	if asset.OwnerID != userID {
		a.error(w, r, http.StatusNotFound, "not_found", msgAssetNotFound)
		return
	}
	a.json(w, http.StatusOK, a.libraryView(r.Context(), asset))
}
