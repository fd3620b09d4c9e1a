package main

import (
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/depthflow/internal/config"
	"github.com/spf13/cobra"
)

// app carries state shared by subcommands. cfg is populated before any RunE executes.
type app struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "depthflow",
		Short:         "Turn still images into depth-parallax animations over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logLevel.Set(cfg.Server.LogLevel)
			slog.Info("config loaded", "command", cmd.Name(), "env", cfg.Server.Env,
				"storage", cfg.Storage.Backend, "log_level", cfg.Server.LogLevel)
			a.cfg = cfg
			return nil
		},
	}

	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		serveCmd(a),
		workerCmd(a),
		migrateCmd(a),
		apikeyCmd(a),
	)
	return root
}
