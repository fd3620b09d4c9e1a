package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/internal/blob"
	"github.com/kiranshivaraju/depthflow/internal/cache"
	"github.com/kiranshivaraju/depthflow/internal/dispatch"
	"github.com/kiranshivaraju/depthflow/internal/queue"
	"github.com/kiranshivaraju/depthflow/internal/render/mock"
	"github.com/kiranshivaraju/depthflow/internal/store"
	"github.com/kiranshivaraju/depthflow/internal/store/storetest"
	"github.com/kiranshivaraju/depthflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakePublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

type fakeCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	slots  int
	getErr error
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) ActiveSlots(_ context.Context, _ string) (int, error) {
	return c.slots, nil
}

type fakeRenderers map[string]bool

func (f fakeRenderers) Availability(context.Context) map[string]bool { return f }

// --- helpers ---

type fixture struct {
	svc   *Service
	store *storetest.MemoryStore
	blobs *blob.LocalStore
	pub   *fakePublisher
	cache *fakeCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	f := &fixture{
		store: storetest.NewMemoryStore(),
		blobs: blobs,
		pub:   &fakePublisher{},
		cache: newFakeCache(),
	}
	f.svc = New(f.store, f.blobs, f.pub, f.cache, fakeRenderers{"service": false, "cli": true}, Config{
		MaxUploadBytes: 10 << 20,
		MaxConcurrent:  3,
	})
	f.svc.hostStats = func(context.Context, string) SystemStats {
		cpu, memPct := 12.5, 40.0
		return SystemStats{CPUPercent: &cpu, MemoryPercent: &memPct}
	}
	return f
}

func encodeImage(t *testing.T, format string, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 10 {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	switch format {
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	case "jpeg":
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	default:
		t.Fatalf("unknown format %s", format)
	}
	return buf.Bytes()
}

func validationCode(t *testing.T, err error) string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Code
}

func (f *fixture) jobCount(t *testing.T) int {
	t.Helper()
	c, err := f.store.CountJobsByStatus(context.Background())
	require.NoError(t, err)
	return c.Pending + c.Running + c.Completed + c.Failed
}

// --- Submit ---

func TestSubmit_CreatesPendingJobAndPublishes(t *testing.T) {
	f := newFixture(t)
	params := models.DefaultParams()
	params.DepthStrength = 1.5

	job, err := f.svc.Submit(context.Background(), SubmitRequest{
		Image:    bytes.NewReader(encodeImage(t, "jpeg", 1920, 1080)),
		Filename: "beach.JPG",
		Params:   params,
	})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, "beach.JPG", job.InputName)
	assert.Equal(t, blob.UploadKey(job.ID.String(), "jpg"), job.InputRef)

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.5, stored.Params.DepthStrength)

	_, info, err := f.blobs.Open(context.Background(), job.InputRef)
	require.NoError(t, err)
	assert.Positive(t, info.Size)

	require.Len(t, f.pub.msgs, 1)
	assert.Equal(t, job.ID, f.pub.msgs[0].JobID)
}

func TestSubmit_PublishFailureKeepsJobPending(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	job, err := f.svc.Submit(context.Background(), SubmitRequest{
		Image:    bytes.NewReader(encodeImage(t, "png", 200, 200)),
		Filename: "a.png",
		Params:   models.DefaultParams(),
	})
	require.NoError(t, err)

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)
}

func TestSubmit_Validation(t *testing.T) {
	png200 := encodeImage(t, "png", 200, 200)
	badFPS := models.DefaultParams()
	badFPS.FPS = 100

	tests := []struct {
		name     string
		data     []byte
		filename string
		params   models.Params
		webhook  string
		maxBytes int64
		code     string
	}{
		{"fps out of range", png200, "a.png", badFPS, "", 0, CodeInvalidParameters},
		{"unsupported extension", png200, "a.gif", models.DefaultParams(), "", 0, CodeInvalidFileFormat},
		{"no extension", png200, "photo", models.DefaultParams(), "", 0, CodeInvalidFileFormat},
		{"too large", png200, "a.png", models.DefaultParams(), "", 64, CodeFileTooLarge},
		{"not an image", []byte("just some text pretending"), "a.png", models.DefaultParams(), "", 0, CodeInvalidImage},
		{"too small", encodeImage(t, "png", 50, 300), "a.png", models.DefaultParams(), "", 0, CodeInvalidImage},
		{"bad webhook scheme", png200, "a.png", models.DefaultParams(), "ftp://example.com/hook", 0, CodeInvalidParameters},
		{"relative webhook", png200, "a.png", models.DefaultParams(), "/hook", 0, CodeInvalidParameters},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.maxBytes > 0 {
				f.svc.cfg.MaxUploadBytes = tc.maxBytes
			}

			_, err := f.svc.Submit(context.Background(), SubmitRequest{
				Image:      bytes.NewReader(tc.data),
				Filename:   tc.filename,
				Params:     tc.params,
				WebhookURL: tc.webhook,
			})
			require.Error(t, err)
			assert.Equal(t, tc.code, validationCode(t, err))
			assert.Zero(t, f.jobCount(t))
			assert.Empty(t, f.pub.msgs)
		})
	}
}

func TestSubmit_ParameterErrorsListFields(t *testing.T) {
	f := newFixture(t)
	p := models.DefaultParams()
	p.FPS = 100
	p.OutputFormat = "avi"

	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		Image:    bytes.NewReader(encodeImage(t, "png", 200, 200)),
		Filename: "a.png",
		Params:   p,
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	fields, ok := ve.Details.([]models.FieldError)
	require.True(t, ok)
	assert.Len(t, fields, 2)
}

func TestSubmit_AcceptsWebhook(t *testing.T) {
	f := newFixture(t)
	job, err := f.svc.Submit(context.Background(), SubmitRequest{
		Image:      bytes.NewReader(encodeImage(t, "png", 200, 200)),
		Filename:   "a.png",
		Params:     models.DefaultParams(),
		WebhookURL: "https://example.com/hooks/depthflow",
	})
	require.NoError(t, err)
	require.NotNil(t, job.WebhookURL)
	assert.Equal(t, "https://example.com/hooks/depthflow", *job.WebhookURL)
}

// --- Get / OpenResult ---

func TestGet_UnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_CachesOnlyTerminalJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, err := f.svc.Submit(ctx, SubmitRequest{
		Image: bytes.NewReader(encodeImage(t, "png", 200, 200)), Filename: "a.png", Params: models.DefaultParams(),
	})
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, f.cache.data)

	_, err = store.ClaimJob(ctx, f.store, job.ID, "w")
	require.NoError(t, err)
	require.NoError(t, store.CompleteJob(ctx, f.store, job.ID, "outputs/x/y.mp4"))

	got, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)

	raw, ok := f.cache.data[cache.JobSnapshotKey(job.ID)]
	require.True(t, ok)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, "outputs/x/y.mp4", snap["result_ref"])

	cached, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, cached.ResultRef)
	assert.Equal(t, "outputs/x/y.mp4", *cached.ResultRef)
	assert.Equal(t, job.InputRef, cached.InputRef)
}

func TestGet_CacheErrorFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	f.cache.getErr = errors.New("redis down")
	job, err := f.svc.Submit(context.Background(), SubmitRequest{
		Image: bytes.NewReader(encodeImage(t, "png", 200, 200)), Filename: "a.png", Params: models.DefaultParams(),
	})
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestOpenResult_NotReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, err := f.svc.Submit(ctx, SubmitRequest{
		Image: bytes.NewReader(encodeImage(t, "png", 200, 200)), Filename: "a.png", Params: models.DefaultParams(),
	})
	require.NoError(t, err)

	_, err = f.svc.OpenResult(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = store.ClaimJob(ctx, f.store, job.ID, "w")
	require.NoError(t, err)
	_, err = f.svc.OpenResult(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, store.FailJob(ctx, f.store, job.ID, "rendering failed"))
	_, err = f.svc.OpenResult(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestOpenResult_UnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.OpenResult(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

// Upload, render on a worker, download.
func TestEndToEnd_SubmitRenderDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	params := models.DefaultParams()
	params.DepthStrength = 1.5

	job, err := f.svc.Submit(ctx, SubmitRequest{
		Image:    bytes.NewReader(encodeImage(t, "jpeg", 1920, 1080)),
		Filename: "city.jpg",
		Params:   params,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	d := dispatch.New(f.store, f.blobs, mock.NewMockRenderer("service"), newFakeSlots(), nil, dispatch.Config{
		WorkerID:      "w1",
		TempDir:       t.TempDir(),
		Concurrency:   1,
		MaxConcurrent: 1,
		RenderTimeout: 5 * time.Second,
		SlotLeaseTTL:  time.Minute,
	})
	require.Len(t, f.pub.msgs, 1)
	require.NoError(t, d.Handle(ctx, f.pub.msgs[0]))

	got, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)

	art, err := f.svc.OpenResult(ctx, job.ID)
	require.NoError(t, err)
	defer art.Close()
	assert.Equal(t, "video/mp4", art.ContentType)
	assert.Equal(t, "depthflow_"+job.ID.String()+".mp4", art.Filename)
	body, err := io.ReadAll(art)
	require.NoError(t, err)
	assert.Equal(t, "fake-animation", string(body))
	assert.Equal(t, int64(len(body)), art.Size)
}

type fakeSlots struct{}

func newFakeSlots() fakeSlots { return fakeSlots{} }

func (fakeSlots) AcquireSlot(context.Context, string, string, int, time.Duration) (bool, error) {
	return true, nil
}
func (fakeSlots) ReleaseSlot(context.Context, string, string) error { return nil }

// --- Status ---

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for range 3 {
		_, err := f.svc.Submit(ctx, SubmitRequest{
			Image: bytes.NewReader(encodeImage(t, "png", 200, 200)), Filename: "a.png", Params: models.DefaultParams(),
		})
		require.NoError(t, err)
	}
	f.cache.slots = 2

	st, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.QueueLength)
	assert.Equal(t, 2, st.ActiveTasks)
	assert.Equal(t, 3, st.MaxConcurrentTasks)
	assert.Equal(t, 3, st.Jobs.Pending)
	assert.Equal(t, map[string]bool{"service": false, "cli": true}, st.Renderers)
	require.NotNil(t, st.System.CPUPercent)
	assert.Equal(t, 12.5, *st.System.CPUPercent)
}

func TestStatus_WithoutCacheUsesRunningCount(t *testing.T) {
	f := newFixture(t)
	f.svc.cache = nil
	ctx := context.Background()
	job, err := f.svc.Submit(ctx, SubmitRequest{
		Image: bytes.NewReader(encodeImage(t, "png", 200, 200)), Filename: "a.png", Params: models.DefaultParams(),
	})
	require.NoError(t, err)
	_, err = store.ClaimJob(ctx, f.store, job.ID, "w")
	require.NoError(t, err)

	st, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ActiveTasks)
	assert.Equal(t, 0, st.QueueLength)
}
