// Package dispatch runs render jobs pulled from the queue under a local and a global
// concurrency ceiling, and reaps jobs whose worker disappeared.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/internal/blob"
	"github.com/kiranshivaraju/depthflow/internal/cache"
	"github.com/kiranshivaraju/depthflow/internal/notify"
	"github.com/kiranshivaraju/depthflow/internal/queue"
	"github.com/kiranshivaraju/depthflow/internal/render"
	"github.com/kiranshivaraju/depthflow/internal/store"
	"github.com/kiranshivaraju/depthflow/pkg/models"
	"golang.org/x/sync/semaphore"
)

// SlotPool is the global render ceiling shared by every worker process.
type SlotPool interface {
	AcquireSlot(ctx context.Context, pool, holder string, limit int, ttl time.Duration) (bool, error)
	ReleaseSlot(ctx context.Context, pool, holder string) error
}

const (
	maxErrorLen     = 1000
	terminalTimeout = 30 * time.Second
	notifyTimeout   = 45 * time.Second
	defaultSlotPoll = 2 * time.Second
)

type Config struct {
	WorkerID         string
	TempDir          string
	Concurrency      int
	MaxConcurrent    int
	RenderTimeout    time.Duration
	SlotLeaseTTL     time.Duration
	SlotPollInterval time.Duration
}

// Dispatcher processes one queue message at a time per call to Handle. Handle is safe to call
// from many goroutines.
type Dispatcher struct {
	store    store.Store
	blobs    blob.Store
	renderer render.Renderer
	slots    SlotPool
	notifier notify.Notifier
	sem      *semaphore.Weighted
	cfg      Config
}

func New(s store.Store, b blob.Store, r render.Renderer, slots SlotPool, n notify.Notifier, cfg Config) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.SlotPollInterval <= 0 {
		cfg.SlotPollInterval = defaultSlotPoll
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Dispatcher{
		store:    s,
		blobs:    b,
		renderer: r,
		slots:    slots,
		notifier: n,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		cfg:      cfg,
	}
}

// Handle is a queue.Handler. It returns an error only when the message should be redelivered;
// render failures are recorded on the job and acknowledged.
func (d *Dispatcher) Handle(ctx context.Context, msg queue.Message) error {
	log := slog.With("job_id", msg.JobID, "worker_id", d.cfg.WorkerID)

	job, err := d.store.GetJob(ctx, msg.JobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("dropping message for unknown job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != models.JobStatusPending {
		log.Info("skipping job that is not pending", "status", job.Status)
		return nil
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	// Each delivery holds its own lease. Two deliveries of the same job must not share one, or
	// the loser's release would free the slot the winner is rendering under.
	holder := msg.JobID.String() + ":" + uuid.NewString()
	if err := d.acquireSlot(ctx, holder); err != nil {
		return fmt.Errorf("acquire render slot: %w", err)
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := d.slots.ReleaseSlot(relCtx, cache.RenderPool, holder); err != nil {
			log.Error("failed to release render slot", "error", err)
		}
	}()
	stopRenew := d.renewLease(ctx, holder, log)
	defer stopRenew()

	// The slot is held before the claim so the number of running jobs never exceeds the ceiling.
	job, err = store.ClaimJob(ctx, d.store, msg.JobID, d.cfg.WorkerID)
	if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
		log.Info("job claimed elsewhere, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	log.Info("job claimed")

	d.process(ctx, job, log)
	d.notify(ctx, job.ID, log)
	return nil
}

func (d *Dispatcher) acquireSlot(ctx context.Context, holder string) error {
	for {
		ok, err := d.slots.AcquireSlot(ctx, cache.RenderPool, holder, d.cfg.MaxConcurrent, d.cfg.SlotLeaseTTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.cfg.SlotPollInterval):
		}
	}
}

// renewLease extends the slot lease every third of its TTL until the returned func is called.
// The returned func waits for the renewer to exit, so no renewal lands after the release.
func (d *Dispatcher) renewLease(ctx context.Context, holder string, log *slog.Logger) func() {
	if d.cfg.SlotLeaseTTL <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(d.cfg.SlotLeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := d.slots.AcquireSlot(ctx, cache.RenderPool, holder, d.cfg.MaxConcurrent, d.cfg.SlotLeaseTTL)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				log.Warn("failed to renew render slot", "error", err)
			case !ok:
				log.Warn("render slot lease expired and the pool is full")
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// process runs a claimed job to a terminal state. Every path out of here either completes or
// fails the job.
func (d *Dispatcher) process(ctx context.Context, job *models.Job, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing job", "error", r, "stack", string(debug.Stack()))
			d.fail(ctx, job, fmt.Sprintf("internal error: %v", r), log)
		}
	}()

	workDir, err := os.MkdirTemp(d.cfg.TempDir, "depthflow-"+job.ID.String()+"-")
	if err != nil {
		d.fail(ctx, job, "could not create working directory", log)
		return
	}
	defer os.RemoveAll(workDir)

	progress := d.progressFunc(ctx, job, log)

	progress(10, "downloading input")
	inputPath := filepath.Join(workDir, "input"+filepath.Ext(job.InputRef))
	if err := d.blobs.GetFile(ctx, job.InputRef, inputPath); err != nil {
		log.Error("failed to download input", "error", err)
		d.fail(ctx, job, "input image could not be read", log)
		return
	}
	progress(20, "input ready")

	outputPath := filepath.Join(workDir, "depthflow_"+job.ID.String()+"."+job.Params.OutputFormat)
	renderCtx, cancel := context.WithTimeout(ctx, d.cfg.RenderTimeout)
	start := time.Now()
	err = d.renderer.Render(renderCtx, render.Request{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Params:     job.Params,
	}, progress)
	timedOut := errors.Is(renderCtx.Err(), context.DeadlineExceeded)
	cancel()

	switch {
	case err == nil:
	case ctx.Err() != nil:
		d.fail(ctx, job, "worker shut down during processing", log)
		return
	case timedOut:
		d.fail(ctx, job, fmt.Sprintf("render timed out after %s", d.cfg.RenderTimeout), log)
		return
	default:
		log.Error("render failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		d.fail(ctx, job, "rendering failed: "+err.Error(), log)
		return
	}
	log.Info("render succeeded", "duration_ms", time.Since(start).Milliseconds())

	progress(95, "uploading result")
	key := blob.OutputKey(job.ID.String(), job.Params.OutputFormat)
	if err := d.blobs.PutFile(ctx, key, outputPath, models.ContentType(job.Params.OutputFormat)); err != nil {
		log.Error("failed to upload result", "error", err)
		d.fail(ctx, job, "result could not be stored", log)
		return
	}

	tctx, tcancel := terminalContext(ctx)
	defer tcancel()
	err = store.CompleteJob(tctx, d.store, job.ID, key)
	if errors.Is(err, store.ErrInvalidTransition) {
		// Someone else already failed this job. The artifact must not become visible.
		log.Warn("job finished elsewhere, discarding result", "error", err)
		if err := d.blobs.Delete(tctx, key); err != nil {
			log.Error("failed to delete orphaned result", "key", key, "error", err)
		}
		return
	}
	if err != nil {
		log.Error("failed to mark job completed", "error", err)
		return
	}
	log.Info("job completed", "result_ref", key)
}

// progressFunc returns a ProgressFunc that writes monotonically increasing progress to the store.
func (d *Dispatcher) progressFunc(ctx context.Context, job *models.Job, log *slog.Logger) render.ProgressFunc {
	var mu sync.Mutex
	last := -1
	return func(percent int, message string) {
		mu.Lock()
		defer mu.Unlock()
		if percent <= last {
			return
		}
		last = percent
		err := d.store.UpdateJobProgress(ctx, job.ID, percent, message)
		if err != nil && !errors.Is(err, store.ErrStaleUpdate) {
			log.Warn("failed to record progress", "progress", percent, "error", err)
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, job *models.Job, msg string, log *slog.Logger) {
	tctx, cancel := terminalContext(ctx)
	defer cancel()

	err := store.FailJob(tctx, d.store, job.ID, truncate(msg, maxErrorLen))
	if errors.Is(err, store.ErrInvalidTransition) {
		log.Info("job already finished, failure not recorded", "reason", msg)
		return
	}
	if err != nil {
		log.Error("failed to mark job failed", "reason", msg, "error", err)
		return
	}
	log.Warn("job failed", "reason", msg)
}

func (d *Dispatcher) notify(ctx context.Context, id uuid.UUID, log *slog.Logger) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	job, err := d.store.GetJob(nctx, id)
	if err != nil {
		log.Warn("could not load job for notification", "error", err)
		return
	}
	if !job.IsTerminal() {
		return
	}
	if err := d.notifier.Notify(nctx, job); err != nil {
		log.Warn("notification failed", "error", err)
	}
}

// terminalContext survives cancellation of the worker so shutdown still records the outcome.
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalTimeout)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
