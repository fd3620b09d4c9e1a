package render_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/kiranshivaraju/depthflow/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRenderer_Success(t *testing.T) {
	req := sampleRequest(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/render":
			assert.Equal(t, http.MethodPost, r.Method)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, req.InputPath, body["input_path"])
			assert.Equal(t, req.OutputPath, body["output_path"])
			params := body["parameters"].(map[string]any)
			assert.Equal(t, "orbit", params["camera_movement"])

			require.NoError(t, os.WriteFile(req.OutputPath, []byte("video"), 0o644))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srv.Close()

	r := render.NewServiceRenderer(srv.URL)
	require.NoError(t, r.Probe(context.Background()))

	var progress []int
	err := r.Render(context.Background(), req, func(p int, _ string) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, []int{30, 90}, progress)
}

func TestServiceRenderer_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"error","error":"gpu busy"}`))
	}))
	defer srv.Close()

	r := render.NewServiceRenderer(srv.URL)
	assert.ErrorIs(t, r.Probe(context.Background()), render.ErrDependencyUnavailable)
	assert.ErrorIs(t, r.Render(context.Background(), sampleRequest(t), nil), render.ErrDependencyUnavailable)
}

func TestServiceRenderer_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := render.NewServiceRenderer(url)
	assert.ErrorIs(t, r.Probe(context.Background()), render.ErrDependencyUnavailable)
	assert.ErrorIs(t, r.Render(context.Background(), sampleRequest(t), nil), render.ErrDependencyUnavailable)
}

func TestServiceRenderer_RenderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"status":"error","error":"could not estimate depth"}`))
	}))
	defer srv.Close()

	err := render.NewServiceRenderer(srv.URL).Render(context.Background(), sampleRequest(t), nil)
	assert.ErrorIs(t, err, render.ErrRenderFailed)
	assert.Contains(t, err.Error(), "could not estimate depth")
}

func TestServiceRenderer_MissingOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	err := render.NewServiceRenderer(srv.URL).Render(context.Background(), sampleRequest(t), nil)
	assert.ErrorIs(t, err, render.ErrRenderFailed)
}
