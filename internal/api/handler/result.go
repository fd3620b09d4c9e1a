package handler

import (
	"context"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/internal/service"
)

// ResultOpener opens finished artifacts.
type ResultOpener interface {
	OpenResult(ctx context.Context, id uuid.UUID) (*service.Artifact, error)
}

// NewResultHandler returns an http.HandlerFunc for GET /api/v1/result/{task_id}. It supports
// range requests.
func NewResultHandler(svc ResultOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(r)
		if !ok {
			writeError(w, r, service.ErrNotFound)
			return
		}

		art, err := svc.OpenResult(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer art.Close()

		w.Header().Set("Content-Type", art.ContentType)
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": art.Filename}))
		http.ServeContent(w, r, art.Filename, art.ModTime, art)
	}
}
