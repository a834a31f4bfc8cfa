package main

import (
	"context"
	"errors"

	"novel-engine/internal/config"
	"novel-engine/internal/database"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations (PostgreSQL)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *database.Migrator) error {
				if err := m.Up(ctx); err != nil {
					return err
				}
				return printVersion(ctx, cmd, m)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *database.Migrator) error {
				return m.Down(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *database.Migrator) error {
				return printVersion(ctx, cmd, m)
			})
		},
	})
	return cmd
}

// withMigrator открывает хранилище без AUTO_MIGRATE и передает мигратор PostgreSQL.
// SQLite применяет миграции при открытии, отдельные команды для него не нужны.
func withMigrator(ctx context.Context, fn func(ctx context.Context, m *database.Migrator) error) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.cfg.StorageDriver != config.DriverPostgres {
		return errors.New("migrate commands require STORAGE_DRIVER=postgres; sqlite migrates on open")
	}
	return fn(ctx, database.NewMigrator(e.storage.Pool, e.logger))
}

func printVersion(ctx context.Context, cmd *cobra.Command, m *database.Migrator) error {
	version, dirty, err := m.Version(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("schema version %d (dirty=%t)\n", version, dirty)
	return nil
}
