package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/depthflow/internal/blob"
	"github.com/kiranshivaraju/depthflow/internal/cache"
	"github.com/kiranshivaraju/depthflow/internal/config"
	"github.com/kiranshivaraju/depthflow/internal/dispatch"
	"github.com/kiranshivaraju/depthflow/internal/notify"
	"github.com/kiranshivaraju/depthflow/internal/queue"
	"github.com/kiranshivaraju/depthflow/internal/render"
	"github.com/kiranshivaraju/depthflow/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errDeliveriesClosed = errors.New("queue delivery channel closed")

func workerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume render jobs from the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), a.cfg)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	pgStore := store.NewPostgresStore(pool)

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	conn, err := queue.Connect(ctx, cfg.Queue.URL)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer conn.Close()
	publisher, err := queue.NewRabbitPublisher(conn, cfg.Queue)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	defer publisher.Close()

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open blob storage: %w", err)
	}

	renderer := render.New(cfg.Render)
	slog.Info("renderers probed", "available", renderer.Availability(ctx))

	notifier, closeNotifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return err
	}
	defer closeNotifier()

	d := dispatch.New(pgStore, blobs, renderer, redisCache, notifier, dispatch.Config{
		WorkerID:      cfg.Worker.ID,
		TempDir:       cfg.Worker.TempDir,
		Concurrency:   cfg.Worker.Concurrency,
		MaxConcurrent: cfg.Render.MaxConcurrent,
		RenderTimeout: cfg.Render.Timeout,
		SlotLeaseTTL:  cfg.Render.SlotLeaseTTL,
	})
	reaper := dispatch.NewReaper(pgStore, publisher, notifier,
		cfg.Worker.ReaperInterval, cfg.Worker.StaleAfter, cfg.Worker.RequeueAfter)
	consumer := queue.NewConsumer(conn, cfg.Queue, cfg.Worker.Concurrency)

	slog.Info("worker started", "worker_id", cfg.Worker.ID, "concurrency", cfg.Worker.Concurrency,
		"max_concurrent_renders", cfg.Render.MaxConcurrent)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumeUntilDone(gctx, consumer.Consume, d.Handle)
	})
	g.Go(func() error {
		return reaper.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("worker stopped")
	return nil
}

// consumeUntilDone treats cancellation as a clean stop and a closed delivery channel as an error,
// so the reaper is torn down with the consumer.
func consumeUntilDone(ctx context.Context, consume func(context.Context, queue.Handler) error, handle queue.Handler) error {
	err := consume(ctx, handle)
	switch {
	case ctx.Err() != nil:
		return nil
	case err == nil:
		return errDeliveriesClosed
	default:
		return fmt.Errorf("consume: %w", err)
	}
}

// buildNotifier always includes webhooks; NATS is added when configured.
func buildNotifier(cfg config.NotifyConfig) (notify.Notifier, func(), error) {
	notifiers := notify.Multi{notify.NewWebhook()}
	if cfg.NATSURL == "" {
		return notifiers, func() {}, nil
	}

	nc, err := notify.NewNATS(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	slog.Info("publishing job events to nats", "subject", cfg.NATSSubject)
	return append(notifiers, nc), nc.Close, nil
}
