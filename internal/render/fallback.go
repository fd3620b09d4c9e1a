package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Fallback tries renderers in order. A renderer is skipped when its probe fails, and the next
// one is tried with the same request when it reports ErrDependencyUnavailable. Any other error
// ends the chain.
type Fallback struct {
	renderers []Renderer
}

var _ Renderer = (*Fallback)(nil)

func NewFallback(renderers ...Renderer) *Fallback {
	return &Fallback{renderers: renderers}
}

func (f *Fallback) Name() string { return "fallback" }

// Probe succeeds when at least one renderer is usable.
func (f *Fallback) Probe(ctx context.Context) error {
	var errs []error
	for _, r := range f.renderers {
		err := r.Probe(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w: no renderers configured", ErrDependencyUnavailable)
	}
	return errors.Join(errs...)
}

func (f *Fallback) Render(ctx context.Context, req Request, progress ProgressFunc) error {
	lastErr := fmt.Errorf("%w: no renderers configured", ErrDependencyUnavailable)
	for _, r := range f.renderers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Probe(ctx); err != nil {
			slog.Warn("renderer unavailable, skipping", "renderer", r.Name(), "error", err)
			lastErr = err
			continue
		}

		err := r.Render(ctx, req, progress)
		if err == nil {
			slog.Info("render finished", "renderer", r.Name())
			return nil
		}
		if !errors.Is(err, ErrDependencyUnavailable) {
			return fmt.Errorf("%s: %w", r.Name(), err)
		}
		slog.Warn("renderer dependency error, falling back", "renderer", r.Name(), "error", err)
		lastErr = err
	}
	return lastErr
}

// Availability reports the probe result of every renderer by name.
func (f *Fallback) Availability(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(f.renderers))
	for _, r := range f.renderers {
		out[r.Name()] = r.Probe(ctx) == nil
	}
	return out
}
