package main

import (
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/depthflow/internal/store"
	"github.com/spf13/cobra"
)

func migrateCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := store.RunMigrations(a.cfg.Database.URL, dir); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			slog.Info("database migrations applied", "dir", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory holding SQL migrations")
	return cmd
}
