package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/depthflow/internal/dispatch"
	"github.com/kiranshivaraju/depthflow/internal/queue"
	"github.com/kiranshivaraju/depthflow/internal/store"
	"github.com/kiranshivaraju/depthflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) published() []queue.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.Message(nil), p.msgs...)
}

func TestSweep_FailsStaleRunningJobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	stale := e.pendingJob(t)
	_, err := store.ClaimJob(ctx, e.store, stale.ID, "gone")
	require.NoError(t, err)
	e.store.SetUpdatedAt(stale.ID, time.Now().Add(-time.Hour))

	fresh := e.pendingJob(t)
	_, err = store.ClaimJob(ctx, e.store, fresh.ID, "alive")
	require.NoError(t, err)

	r := dispatch.NewReaper(e.store, &recordingPublisher{}, e.notifier, time.Minute, 10*time.Minute, time.Hour)
	failed, requeued, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, requeued)

	got := e.job(t, stale.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "worker lost")
	assert.Equal(t, models.JobStatusRunning, e.job(t, fresh.ID).Status)

	notified := e.notifier.notified()
	require.Len(t, notified, 1)
	assert.Equal(t, stale.ID, notified[0].ID)
}

func TestSweep_RequeuesStalePendingJobsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	old := e.pendingJob(t)
	e.store.SetUpdatedAt(old.ID, time.Now().Add(-time.Hour))
	e.pendingJob(t)

	pub := &recordingPublisher{}
	r := dispatch.NewReaper(e.store, pub, e.notifier, time.Minute, time.Hour, 10*time.Minute)

	_, requeued, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	require.Len(t, pub.published(), 1)
	assert.Equal(t, old.ID, pub.published()[0].JobID)

	got := e.job(t, old.ID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, "requeued", got.Message)

	// The touch resets the clock, so an immediate second sweep leaves it alone.
	_, requeued, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, requeued)
	assert.Len(t, pub.published(), 1)
}

func TestSweep_LeavesTerminalJobsAlone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job := e.pendingJob(t)
	_, err := store.ClaimJob(ctx, e.store, job.ID, "w")
	require.NoError(t, err)
	require.NoError(t, store.CompleteJob(ctx, e.store, job.ID, "outputs/x"))
	e.store.SetUpdatedAt(job.ID, time.Now().Add(-time.Hour))

	r := dispatch.NewReaper(e.store, &recordingPublisher{}, e.notifier, time.Minute, time.Minute, time.Minute)
	failed, requeued, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Zero(t, requeued)
	assert.Equal(t, models.JobStatusCompleted, e.job(t, job.ID).Status)
}

func TestSweep_PublishError(t *testing.T) {
	e := newEnv(t)
	job := e.pendingJob(t)
	e.store.SetUpdatedAt(job.ID, time.Now().Add(-time.Hour))

	pub := &recordingPublisher{err: errors.New("broker down")}
	r := dispatch.NewReaper(e.store, pub, e.notifier, time.Minute, time.Hour, time.Minute)

	_, _, err := r.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, "queued", e.job(t, job.ID).Message)
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	job := e.pendingJob(t)
	e.store.SetUpdatedAt(job.ID, time.Now().Add(-time.Hour))

	pub := &recordingPublisher{}
	r := dispatch.NewReaper(e.store, pub, e.notifier, 10*time.Millisecond, time.Hour, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
}
