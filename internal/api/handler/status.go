package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/depthflow/internal/api/response"
	"github.com/kiranshivaraju/depthflow/internal/service"
	"github.com/kiranshivaraju/depthflow/pkg/models"
)

// StatusReporter summarizes system load.
type StatusReporter interface {
	Status(ctx context.Context) (*service.Status, error)
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/status.
func NewStatusHandler(svc StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Status(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, st)
	}
}

// NewPresetsHandler returns an http.HandlerFunc for GET /api/v1/presets.
func NewPresetsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, models.Presets())
	}
}
