package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/depthflow/internal/api/response"
)

const healthCheckTimeout = 3 * time.Second

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /health. It reports 503 when any
// dependency fails its ping.
func NewHealthHandler(version string, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		degraded := false
		for name, p := range deps {
			checks[name] = "ok"
			if err := p.Ping(ctx); err != nil {
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}
		response.JSON(w, map[string]any{
			"status":    "healthy",
			"version":   version,
			"timestamp": time.Now().UTC(),
			"services":  checks,
		})
	}
}
