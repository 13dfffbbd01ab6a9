// Package postgres is the shared-deployment Store implementation.
//
// Per-shard serialization uses SELECT ... FOR UPDATE inside a transaction:
// concurrent editors of one shard queue on the row lock instead of losing
// writes. Deadlocks and serialization failures are retried a bounded number
// of times before surfacing as an internal fault.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/internal/store"
)

// Schema is the SQL DDL for all resona tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS episodes (
    id         TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    title      TEXT,
    note       TEXT
);

CREATE TABLE IF NOT EXISTS shards (
    id             TEXT PRIMARY KEY,
    episode_id     TEXT REFERENCES episodes(id),
    start_time     DOUBLE PRECISION,
    end_time       DOUBLE PRECISION,
    source         TEXT,
    meta           JSONB NOT NULL DEFAULT '{}',
    features       JSONB NOT NULL DEFAULT '{}',
    analysis       JSONB NOT NULL DEFAULT '{}',
    publish_state  TEXT NOT NULL DEFAULT 'draft',
    deleted        BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_reason TEXT,
    deleted_at     TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_shards_episode ON shards(episode_id);

CREATE TABLE IF NOT EXISTS feed_entries (
    id           TEXT PRIMARY KEY,
    shard_id     TEXT NOT NULL,
    episode_id   TEXT,
    profile_id   TEXT NOT NULL,
    published_at TIMESTAMPTZ NOT NULL,
    UNIQUE (profile_id, shard_id)
);
CREATE INDEX IF NOT EXISTS idx_feed_profile ON feed_entries(profile_id);

CREATE TABLE IF NOT EXISTS profiles (
    id                  TEXT PRIMARY KEY,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    role                TEXT NOT NULL DEFAULT 'ghost',
    state               TEXT NOT NULL DEFAULT 'ok',
    tev_score           DOUBLE PRECISION NOT NULL DEFAULT 0,
    daily_streak        INTEGER NOT NULL DEFAULT 0,
    last_active_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    invitations_granted INTEGER NOT NULL DEFAULT 3,
    invitations_used    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS invitations (
    id          TEXT PRIMARY KEY,
    inviter_id  TEXT NOT NULL REFERENCES profiles(id),
    invitee_id  TEXT,
    email       TEXT NOT NULL,
    code        TEXT NOT NULL,
    state       TEXT NOT NULL DEFAULT 'pending',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at  TIMESTAMPTZ NOT NULL,
    accepted_at TIMESTAMPTZ,
    revoked_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_invitations_inviter ON invitations(inviter_id);
`

// conflictRetryAttempts bounds how often a deadlocked or serialization-failed
// transaction is retried before the error surfaces.
const conflictRetryAttempts = 3

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a [store.Store] backed by PostgreSQL.
type Store struct {
	db DB
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// New creates a [Store] over the given connection or pool. The caller is
// responsible for calling [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL, creating tables and indexes if they do
// not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying pool when the DB owns connections.
func (s *Store) Close() error {
	if closer, ok := s.db.(interface{ Close() }); ok {
		closer.Close()
	}
	return nil
}

// isRetryableConflict reports whether err is a deadlock or serialization
// failure worth retrying.
func isRetryableConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func retryOnConflict(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < conflictRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isRetryableConflict(lastErr) {
			return lastErr
		}
		select {
		case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func encodeDoc(doc map[string]any) ([]byte, error) {
	if doc == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode document: %w", err)
	}
	return b, nil
}

func decodeDoc(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("postgres: decode document: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func internalErr(op string, err error) error {
	return fault.Wrap(fault.Internal, fault.CodeInternal, "postgres: "+op, err)
}
