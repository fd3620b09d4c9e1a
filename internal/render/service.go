package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kiranshivaraju/depthflow/pkg/models"
)

// ServiceRenderer calls a DepthFlow render sidecar over HTTP. The sidecar shares the worker's
// filesystem, so requests carry paths rather than image bytes.
type ServiceRenderer struct {
	baseURL string
	client  *http.Client
}

var _ Renderer = (*ServiceRenderer)(nil)

func NewServiceRenderer(baseURL string) *ServiceRenderer {
	// Render duration is bounded by the caller's context, not the client.
	return &ServiceRenderer{baseURL: baseURL, client: &http.Client{}}
}

func (s *ServiceRenderer) Name() string { return "service" }

type serviceRequest struct {
	InputPath  string        `json:"input_path"`
	OutputPath string        `json:"output_path"`
	Parameters models.Params `json:"parameters"`
}

type serviceResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *ServiceRenderer) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: render service health returned %d", ErrDependencyUnavailable, resp.StatusCode)
	}
	return nil
}

func (s *ServiceRenderer) Render(ctx context.Context, r Request, progress ProgressFunc) error {
	body, err := json.Marshal(serviceRequest{InputPath: r.InputPath, OutputPath: r.OutputPath, Parameters: r.Params})
	if err != nil {
		return fmt.Errorf("marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	report(progress, 30, "rendering with render service")
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()

	var out serviceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode render service response: %v", ErrRenderFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: render service unavailable: %s", ErrDependencyUnavailable, out.Error)
	case resp.StatusCode != http.StatusOK:
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: %s", ErrRenderFailed, msg)
	}

	if err := checkOutput(r.OutputPath); err != nil {
		return err
	}
	report(progress, 90, "render complete")
	return nil
}
