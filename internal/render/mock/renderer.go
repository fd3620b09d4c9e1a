package mock

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/kiranshivaraju/depthflow/internal/render"
)

// MockRenderer satisfies render.Renderer for testing.
type MockRenderer struct {
	Name_      string
	ProbeFunc  func(ctx context.Context) error
	RenderFunc func(ctx context.Context, req render.Request, progress render.ProgressFunc) error

	calls atomic.Int32
}

var _ render.Renderer = (*MockRenderer)(nil)

func (m *MockRenderer) Name() string { return m.Name_ }

func (m *MockRenderer) Probe(ctx context.Context) error {
	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx)
	}
	return nil
}

func (m *MockRenderer) Render(ctx context.Context, req render.Request, progress render.ProgressFunc) error {
	m.calls.Add(1)
	if m.RenderFunc != nil {
		return m.RenderFunc(ctx, req, progress)
	}
	return nil
}

// Calls returns how many times Render was invoked.
func (m *MockRenderer) Calls() int { return int(m.calls.Load()) }

// NewMockRenderer returns a MockRenderer that writes a small artifact to the requested output path.
func NewMockRenderer(name string) *MockRenderer {
	return &MockRenderer{
		Name_: name,
		RenderFunc: func(_ context.Context, req render.Request, progress render.ProgressFunc) error {
			if progress != nil {
				progress(50, "rendering")
			}
			return os.WriteFile(req.OutputPath, []byte("fake-animation"), 0o644)
		},
	}
}

// NewFailingRenderer returns a MockRenderer whose Render always returns err.
func NewFailingRenderer(name string, err error) *MockRenderer {
	return &MockRenderer{
		Name_: name,
		RenderFunc: func(_ context.Context, _ render.Request, _ render.ProgressFunc) error {
			return err
		},
	}
}

// NewUnavailableRenderer returns a MockRenderer whose Probe fails.
func NewUnavailableRenderer(name string) *MockRenderer {
	return &MockRenderer{
		Name_: name,
		ProbeFunc: func(_ context.Context) error {
			return render.ErrDependencyUnavailable
		},
	}
}

// NewBlockingRenderer returns a MockRenderer that blocks until its context is done.
func NewBlockingRenderer(name string) *MockRenderer {
	return &MockRenderer{
		Name_: name,
		RenderFunc: func(ctx context.Context, _ render.Request, _ render.ProgressFunc) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
}
