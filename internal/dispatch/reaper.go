package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/depthflow/internal/notify"
	"github.com/kiranshivaraju/depthflow/internal/queue"
	"github.com/kiranshivaraju/depthflow/internal/store"
	"github.com/kiranshivaraju/depthflow/pkg/models"
)

const reapBatch = 100

// Reaper recovers jobs that a lost worker or a lost message left behind. Running jobs with no
// update for StaleAfter are failed; pending jobs older than RequeueAfter are published again.
// It never moves a job backwards.
type Reaper struct {
	store        store.Store
	publisher    queue.Publisher
	notifier     notify.Notifier
	interval     time.Duration
	staleAfter   time.Duration
	requeueAfter time.Duration
}

func NewReaper(s store.Store, p queue.Publisher, n notify.Notifier, interval, staleAfter, requeueAfter time.Duration) *Reaper {
	if n == nil {
		n = notify.Nop{}
	}
	return &Reaper{
		store:        s,
		publisher:    p,
		notifier:     n,
		interval:     interval,
		staleAfter:   staleAfter,
		requeueAfter: requeueAfter,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			failed, requeued, err := r.Sweep(ctx)
			if err != nil {
				slog.Error("reaper sweep failed", "error", err)
				continue
			}
			if failed > 0 || requeued > 0 {
				slog.Info("reaper sweep", "failed", failed, "requeued", requeued)
			}
		}
	}
}

// Sweep runs one pass and reports how many jobs it failed and requeued.
func (r *Reaper) Sweep(ctx context.Context) (failed, requeued int, err error) {
	now := time.Now().UTC()

	stale, err := r.store.ListStaleJobs(ctx, models.JobStatusRunning, now.Add(-r.staleAfter), reapBatch)
	if err != nil {
		return 0, 0, fmt.Errorf("list stale running jobs: %w", err)
	}
	for _, job := range stale {
		msg := fmt.Sprintf("worker lost: no progress for %s", r.staleAfter)
		err := store.FailJob(ctx, r.store, job.ID, msg)
		if errors.Is(err, store.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return failed, requeued, fmt.Errorf("fail stale job %s: %w", job.ID, err)
		}
		failed++
		slog.Warn("failed stale job", "job_id", job.ID, "worker_id", job.WorkerID)

		if j, err := r.store.GetJob(ctx, job.ID); err == nil {
			if err := r.notifier.Notify(ctx, j); err != nil {
				slog.Warn("notification failed", "job_id", job.ID, "error", err)
			}
		}
	}

	pending, err := r.store.ListStaleJobs(ctx, models.JobStatusPending, now.Add(-r.requeueAfter), reapBatch)
	if err != nil {
		return failed, requeued, fmt.Errorf("list stale pending jobs: %w", err)
	}
	for _, job := range pending {
		if err := r.publisher.Publish(ctx, queue.Message{JobID: job.ID}); err != nil {
			return failed, requeued, fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		if err := r.store.TouchPendingJob(ctx, job.ID, "requeued"); err != nil && !errors.Is(err, store.ErrStaleUpdate) {
			return failed, requeued, fmt.Errorf("touch requeued job %s: %w", job.ID, err)
		}
		requeued++
		slog.Info("requeued pending job", "job_id", job.ID)
	}

	return failed, requeued, nil
}
