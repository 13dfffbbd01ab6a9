package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalab/resona/internal/config"
	"github.com/evalab/resona/internal/store"
	"github.com/evalab/resona/internal/store/postgres"
	"github.com/evalab/resona/internal/store/sqlite"
)

// defaultSQLitePath is used when storage.sqlite_path is unset.
const defaultSQLitePath = "resona.db"

// openStore connects the configured persistence backend. The postgres
// backend applies its schema on startup so a fresh database works without
// a separate migrate run.
func openStore(ctx context.Context, sc config.StorageConfig) (store.Store, error) {
	switch sc.Backend {
	case config.StoragePostgres:
		if sc.PostgresDSN == "" {
			return nil, fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
		pool, err := pgxpool.New(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		st := postgres.New(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	case config.StorageSQLite, "":
		path := sc.SQLitePath
		if path == "" {
			path = defaultSQLitePath
		}
		return sqlite.Open(path)
	}
	return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}
