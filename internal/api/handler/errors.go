package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/depthflow/internal/api/response"
	"github.com/kiranshivaraju/depthflow/internal/service"
	"github.com/kiranshivaraju/depthflow/internal/store"
)

// writeError maps service errors onto the API's error codes. Anything unrecognized is logged
// and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &ve):
		response.Error(w, http.StatusBadRequest, ve.Code, ve.Message, ve.Details)
	case errors.As(err, &maxErr):
		response.Error(w, http.StatusBadRequest, service.CodeFileTooLarge, "Request body too large",
			map[string]any{"max_bytes": maxErr.Limit})
	case errors.Is(err, service.ErrNotFound):
		response.Error(w, http.StatusNotFound, "TASK_NOT_FOUND", "Task not found", nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "Resource already exists", nil)
	case errors.Is(err, service.ErrNotReady):
		response.Error(w, http.StatusConflict, "TASK_NOT_READY", "Task has not completed", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.InternalError(w)
	}
}
