// Package render turns an input image into a depth-parallax animation by driving an external
// DepthFlow renderer.
package render

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/depthflow/pkg/models"
)

var (
	// ErrDependencyUnavailable means the renderer could not be reached or is not installed.
	// The fallback chain moves on to the next renderer when it sees this.
	ErrDependencyUnavailable = errors.New("renderer dependency unavailable")
	// ErrRenderFailed means the renderer ran and did not produce an artifact.
	ErrRenderFailed = errors.New("render failed")
)

// Request describes one render. Paths are local to the worker.
type Request struct {
	InputPath  string
	OutputPath string
	Params     models.Params
}

// ProgressFunc receives render progress in [0, 100] with a short human-readable message.
type ProgressFunc func(percent int, message string)

// Renderer produces an animation for a Request. Render must honor ctx cancellation by stopping
// the underlying work.
type Renderer interface {
	Name() string
	Probe(ctx context.Context) error
	Render(ctx context.Context, req Request, progress ProgressFunc) error
}

func report(progress ProgressFunc, percent int, message string) {
	if progress != nil {
		progress(percent, message)
	}
}
