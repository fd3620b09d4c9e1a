package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/depthflow/internal/api"
	"github.com/kiranshivaraju/depthflow/internal/api/handler"
	mw "github.com/kiranshivaraju/depthflow/internal/api/middleware"
	"github.com/kiranshivaraju/depthflow/internal/blob"
	"github.com/kiranshivaraju/depthflow/internal/cache"
	"github.com/kiranshivaraju/depthflow/internal/config"
	"github.com/kiranshivaraju/depthflow/internal/queue"
	"github.com/kiranshivaraju/depthflow/internal/render"
	"github.com/kiranshivaraju/depthflow/internal/service"
	"github.com/kiranshivaraju/depthflow/internal/store"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 30 * time.Second

	// multipartOverhead leaves room for form boundaries and the request field on top of the
	// image itself.
	multipartOverhead = 64 << 10
)

type serveOptions struct {
	migrationsDir  string
	skipMigrations bool
}

func serveCmd(a *app) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a.cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.migrationsDir, "migrations", "migrations", "directory holding SQL migrations")
	cmd.Flags().BoolVar(&opts.skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if !opts.skipMigrations {
		if err := store.RunMigrations(cfg.Database.URL, opts.migrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

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
	slog.Info("queue connected", "exchange", cfg.Queue.Exchange)

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open blob storage: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)

	// The API never renders; the chain is only probed for the status endpoint.
	renderers := render.New(cfg.Render)

	var storageDir string
	if cfg.Storage.Backend == "local" {
		storageDir = cfg.Storage.LocalDir
	}
	svc := service.New(pgStore, blobs, publisher, redisCache, renderers, service.Config{
		MaxUploadBytes: cfg.Upload.MaxBytes,
		MaxConcurrent:  cfg.Render.MaxConcurrent,
		StorageDir:     storageDir,
	})

	if !cfg.Auth.Enabled {
		slog.Warn("API key authentication is disabled")
	}

	deps := api.Dependencies{
		Auth:         mw.NewAuth(pgStore, cfg.Auth.Enabled),
		RateLimit:    mw.NewRateLimit(redisCache, cfg.Auth.RequestsPerMinute),
		MaxBodyBytes: cfg.Upload.MaxBytes + multipartOverhead,

		HealthHandler: handler.NewHealthHandler(version, map[string]handler.Pinger{
			"database": pgStore,
			"cache":    redisCache,
			"storage":  blobs,
		}),
		ProcessHandler:   handler.NewProcessHandler(svc),
		TaskHandler:      handler.NewTaskHandler(svc),
		ResultHandler:    handler.NewResultHandler(svc),
		StatusHandler:    handler.NewStatusHandler(svc),
		PresetsHandler:   handler.NewPresetsHandler(),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return serveUntilDone(ctx, srv)
}

// serveUntilDone runs srv until ctx is cancelled, then drains connections.
func serveUntilDone(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
