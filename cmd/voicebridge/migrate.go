package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/voicebridge/pkg/gateway/store"
)

func newMigrateCmd(deps serveDeps) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect the database schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runMigrate(cmd.Context(), cfg.DatabaseURL, command)
		},
	}
}

func runMigrate(ctx context.Context, databaseURL, command string) error {
	if strings.TrimSpace(databaseURL) == "" {
		return fmt.Errorf("VOICEBRIDGE_DATABASE_URL is not set")
	}
	st, err := store.Open(ctx, databaseURL, nil)
	if err != nil {
		return err
	}
	defer st.Close()
	m, ok := st.(store.Migrator)
	if !ok {
		return fmt.Errorf("store does not support migrations")
	}
	return m.Migrate(ctx, command)
}
