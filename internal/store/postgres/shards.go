package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/internal/store"
)

const shardColumns = `id, episode_id, start_time, end_time, source,
	meta, features, analysis,
	publish_state, deleted, deleted_reason, deleted_at, created_at`

// InsertShard stores a new shard verbatim.
func (s *Store) InsertShard(ctx context.Context, sh store.Shard) error {
	if sh.ID == "" {
		return fault.New(fault.Validation, fault.CodeInvalidParameters, "shard id must not be empty")
	}
	meta, err := encodeDoc(sh.Meta)
	if err != nil {
		return internalErr("insert shard", err)
	}
	features, err := encodeDoc(sh.Features)
	if err != nil {
		return internalErr("insert shard", err)
	}
	analysis, err := encodeDoc(sh.Analysis)
	if err != nil {
		return internalErr("insert shard", err)
	}
	state := sh.PublishState
	if state == "" {
		state = store.StateDraft
	}
	createdAt := sh.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO shards
			(id, episode_id, start_time, end_time, source,
			 meta, features, analysis,
			 publish_state, deleted, deleted_reason, deleted_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err = s.db.Exec(ctx, query,
		sh.ID, sh.EpisodeID, sh.StartTime, sh.EndTime, sh.Source,
		meta, features, analysis,
		state, sh.Deleted, sh.DeletedReason, sh.DeletedAt, createdAt)
	if err != nil {
		return internalErr("insert shard", err)
	}
	return nil
}

// GetShard fetches one shard.
func (s *Store) GetShard(ctx context.Context, shardID string) (*store.Shard, error) {
	row := s.db.QueryRow(ctx, "SELECT "+shardColumns+" FROM shards WHERE id = $1", shardID)
	sh, err := scanShard(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, fault.CodeShardNotFound, "shard %s not found", shardID)
	}
	if err != nil {
		return nil, internalErr("get shard", err)
	}
	return sh, nil
}

// UpdateShard locks the row with FOR UPDATE, runs mutate, and persists the
// result inside one transaction. Concurrent editors queue on the row lock;
// deadlocks are retried, so mutate may run more than once.
func (s *Store) UpdateShard(ctx context.Context, shardID string, mutate func(*store.Shard) error) (*store.Shard, error) {
	var (
		updated   *store.Shard
		mutateErr error
	)
	err := retryOnConflict(ctx, func() error {
		mutateErr = nil
		tx, txErr := s.db.Begin(ctx)
		if txErr != nil {
			return txErr
		}
		defer func() { _ = tx.Rollback(ctx) }()

		row := tx.QueryRow(ctx, "SELECT "+shardColumns+" FROM shards WHERE id = $1 FOR UPDATE", shardID)
		sh, scanErr := scanShard(row)
		if scanErr != nil {
			return scanErr
		}
		if mutateErr = mutate(sh); mutateErr != nil {
			return mutateErr
		}

		meta, encErr := encodeDoc(sh.Meta)
		if encErr != nil {
			return encErr
		}
		features, encErr := encodeDoc(sh.Features)
		if encErr != nil {
			return encErr
		}
		analysis, encErr := encodeDoc(sh.Analysis)
		if encErr != nil {
			return encErr
		}

		const query = `
			UPDATE shards SET
				episode_id = $2, start_time = $3, end_time = $4, source = $5,
				meta = $6, features = $7, analysis = $8,
				publish_state = $9, deleted = $10, deleted_reason = $11, deleted_at = $12
			WHERE id = $1`
		if _, execErr := tx.Exec(ctx, query,
			shardID, sh.EpisodeID, sh.StartTime, sh.EndTime, sh.Source,
			meta, features, analysis,
			sh.PublishState, sh.Deleted, sh.DeletedReason, sh.DeletedAt,
		); execErr != nil {
			return execErr
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return commitErr
		}
		updated = sh
		return nil
	})
	if err != nil {
		if mutateErr != nil {
			return nil, mutateErr
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, fault.CodeShardNotFound, "shard %s not found", shardID)
		}
		if isRetryableConflict(err) {
			return nil, fault.Wrap(fault.Internal, fault.CodeWriteConflict, "shard update kept conflicting", err)
		}
		return nil, internalErr("update shard", err)
	}
	return updated, nil
}

// MergeUserFields merges patch into analysis.user, ignoring nil patch
// values.
func (s *Store) MergeUserFields(ctx context.Context, shardID string, patch map[string]any) (*store.Shard, error) {
	return s.UpdateShard(ctx, shardID, func(sh *store.Shard) error {
		sh.Analysis = store.MergeUser(sh.Analysis, patch)
		return nil
	})
}

// ListShards returns every shard in insertion order.
func (s *Store) ListShards(ctx context.Context) ([]store.Shard, error) {
	return s.queryShards(ctx,
		"SELECT "+shardColumns+" FROM shards ORDER BY created_at ASC, id ASC")
}

// ListShardsByEpisode returns the episode's shards ordered by startTime,
// then createdAt.
func (s *Store) ListShardsByEpisode(ctx context.Context, episodeID string) ([]store.Shard, error) {
	return s.queryShards(ctx,
		"SELECT "+shardColumns+" FROM shards WHERE episode_id = $1 ORDER BY start_time ASC, created_at ASC",
		episodeID)
}

func (s *Store) queryShards(ctx context.Context, query string, args ...any) ([]store.Shard, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, internalErr("query shards", err)
	}
	defer rows.Close()

	var shards []store.Shard
	for rows.Next() {
		sh, scanErr := scanShard(rows)
		if scanErr != nil {
			return nil, internalErr("query shards scan", scanErr)
		}
		shards = append(shards, *sh)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("query shards", err)
	}
	return shards, nil
}

func scanShard(row pgx.Row) (*store.Shard, error) {
	var (
		sh       store.Shard
		meta     []byte
		features []byte
		analysis []byte
	)
	if err := row.Scan(&sh.ID, &sh.EpisodeID, &sh.StartTime, &sh.EndTime, &sh.Source,
		&meta, &features, &analysis,
		&sh.PublishState, &sh.Deleted, &sh.DeletedReason, &sh.DeletedAt, &sh.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if sh.Meta, err = decodeDoc(meta); err != nil {
		return nil, err
	}
	if sh.Features, err = decodeDoc(features); err != nil {
		return nil, err
	}
	if sh.Analysis, err = decodeDoc(analysis); err != nil {
		return nil, err
	}
	return &sh, nil
}
