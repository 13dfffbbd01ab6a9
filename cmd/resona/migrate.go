package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/evalab/resona/internal/config"
	"github.com/evalab/resona/internal/store/postgres"
	"github.com/evalab/resona/internal/store/sqlite"
)

// newMigrateCmd applies the storage schema and exits. serve does this on
// startup too; a separate command lets deployments run DDL with elevated
// credentials before dropping to the runtime role.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the storage schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			switch cfg.Storage.Backend {
			case config.StoragePostgres:
				if cfg.Storage.PostgresDSN == "" {
					return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
				}
				pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
				if err != nil {
					return fmt.Errorf("connect postgres: %w", err)
				}
				defer pool.Close()
				if err := postgres.New(pool).Migrate(ctx); err != nil {
					return err
				}
			case config.StorageSQLite, "":
				path := cfg.Storage.SQLitePath
				if path == "" {
					path = defaultSQLitePath
				}
				st, err := sqlite.Open(path)
				if err != nil {
					return err
				}
				defer st.Close()
			default:
				return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
