package main

import (
	"context"
	"fmt"

	"taskboard-backend/pkg/config"
	"taskboard-backend/pkg/database"

	"github.com/spf13/cobra"
)

// migrator is implemented by stores with an explicit schema.
type migrator interface {
	Migrate(ctx context.Context) error
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the configured store",
		Long: `Prepare the store selected by STORE_BACKEND.

Postgres gets its tables and indexes. NATS gets its key-value buckets, which
opening the store creates. The memory store needs nothing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx := cmd.Context()
			db, err := database.NewDatabase(ctx, cfg.Database())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			if err := migrateStore(ctx, db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store ready\n", database.ResolveBackend(cfg.Database()))
			return nil
		},
	}
}

func migrateStore(ctx context.Context, db database.DatabaseInterface) error {
	m, ok := db.(migrator)
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
