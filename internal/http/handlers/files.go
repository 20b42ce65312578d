package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"genstudio/internal/storage"
)

// ServeFile handles GET /files/{bucket}/*, the target of URLs signed by the
// filesystem object store.
func (a *App) ServeFile(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", msgInvalidPayload)
		return
	}
	q := r.URL.Query()
	if err := a.Files.Verify(bucket, key, q.Get("exp"), q.Get("sig")); err != nil {
		a.error(w, r, http.StatusForbidden, "forbidden", msgForbiddenFile)
		return
	}
	rc, err := a.Files.Open(r.Context(), bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			a.error(w, r, http.StatusNotFound, "not_found", msgAssetNotFound)
			return
		}
		a.internalError(w, r, err, "open file")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", storage.ContentTypeForKey(key))
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(300))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		a.Logger.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("stream file")
	}
}
