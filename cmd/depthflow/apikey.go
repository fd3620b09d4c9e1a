package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kiranshivaraju/depthflow/internal/api/handler"
	"github.com/kiranshivaraju/depthflow/internal/store"
	"github.com/kiranshivaraju/depthflow/pkg/models"
	"github.com/spf13/cobra"
)

type keyCreator interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

func apikeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd(a))
	return cmd
}

// apikeyCreateCmd bootstraps the first admin key; later keys can go through the admin API.
func apikeyCreateCmd(a *app) *cobra.Command {
	var (
		name   string
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := store.Connect(cmd.Context(), a.cfg.Database)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()
			return createAPIKey(cmd.Context(), store.NewPostgresStore(pool), cmd.OutOrStdout(), name, scopes)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "human-readable key name")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{models.ScopeRead}, "comma-separated scopes (read, admin)")
	return cmd
}

func createAPIKey(ctx context.Context, keys keyCreator, out io.Writer, name string, scopes []string) error {
	raw, key, err := handler.NewAPIKey(name, scopes)
	if err != nil {
		return err
	}
	if err := keys.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	fmt.Fprintf(out, "id:     %s\nname:   %s\nscopes: %s\nkey:    %s\n",
		key.ID, key.Name, strings.Join(key.Scopes, ","), raw)
	return nil
}
