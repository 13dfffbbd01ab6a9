package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

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
		createdAt = time.Now()
	}

	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO shards
				(id, episode_id, start_time, end_time, source,
				 meta, features, analysis,
				 publish_state, deleted, deleted_reason, deleted_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sh.ID, nullableString(sh.EpisodeID),
			nullableFloat(sh.StartTime), nullableFloat(sh.EndTime),
			nullableString(sh.Source),
			meta, features, analysis,
			state, boolToInt(sh.Deleted), nullableString(sh.DeletedReason),
			encodeTimePtr(sh.DeletedAt), encodeTime(createdAt),
		)
		return execErr
	})
	if err != nil {
		return internalErr("insert shard", err)
	}
	return nil
}

// GetShard fetches one shard.
func (s *Store) GetShard(ctx context.Context, shardID string) (*store.Shard, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+shardColumns+" FROM shards WHERE id = ?", shardID)
	sh, err := scanShard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, fault.CodeShardNotFound, "shard %s not found", shardID)
	}
	if err != nil {
		return nil, internalErr("get shard", err)
	}
	return sh, nil
}

// UpdateShard runs mutate inside an immediate transaction and persists
// the result. mutate may run more than once when a writer conflict forces
// a retry.
func (s *Store) UpdateShard(ctx context.Context, shardID string, mutate func(*store.Shard) error) (*store.Shard, error) {
	var (
		updated   *store.Shard
		mutateErr error
	)
	err := retryOnBusy(ctx, func() error {
		mutateErr = nil
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx,
			"SELECT "+shardColumns+" FROM shards WHERE id = ?", shardID)
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
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE shards SET
				episode_id = ?, start_time = ?, end_time = ?, source = ?,
				meta = ?, features = ?, analysis = ?,
				publish_state = ?, deleted = ?, deleted_reason = ?, deleted_at = ?
			WHERE id = ?`,
			nullableString(sh.EpisodeID),
			nullableFloat(sh.StartTime), nullableFloat(sh.EndTime),
			nullableString(sh.Source),
			meta, features, analysis,
			sh.PublishState, boolToInt(sh.Deleted), nullableString(sh.DeletedReason),
			encodeTimePtr(sh.DeletedAt), shardID,
		); execErr != nil {
			return execErr
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return commitErr
		}
		updated = sh
		return nil
	})
	if err != nil {
		if mutateErr != nil {
			return nil, mutateErr
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, fault.CodeShardNotFound, "shard %s not found", shardID)
		}
		if isBusy(err) {
			return nil, fault.Wrap(fault.Internal, fault.CodeWriteConflict, "shard update kept losing the writer lock", err)
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
		"SELECT "+shardColumns+" FROM shards WHERE episode_id = ? ORDER BY start_time ASC, created_at ASC",
		episodeID)
}

func (s *Store) queryShards(ctx context.Context, query string, args ...any) ([]store.Shard, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalErr("query shards", err)
	}
	defer rows.Close()

	var shards []store.Shard
	for rows.Next() {
		sh, scanErr := scanShard(rows)
		if scanErr != nil {
			return nil, internalErr("query shards", scanErr)
		}
		shards = append(shards, *sh)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("query shards", err)
	}
	return shards, nil
}

func scanShard(row rowScanner) (*store.Shard, error) {
	var (
		sh            store.Shard
		episodeID     sql.NullString
		startTime     sql.NullFloat64
		endTime       sql.NullFloat64
		source        sql.NullString
		meta          string
		features      string
		analysis      string
		deleted       int
		deletedReason sql.NullString
		deletedAt     sql.NullString
		createdAt     string
	)
	if err := row.Scan(&sh.ID, &episodeID, &startTime, &endTime, &source,
		&meta, &features, &analysis,
		&sh.PublishState, &deleted, &deletedReason, &deletedAt, &createdAt); err != nil {
		return nil, err
	}

	sh.EpisodeID = stringPtr(episodeID)
	sh.StartTime = floatPtr(startTime)
	sh.EndTime = floatPtr(endTime)
	sh.Source = stringPtr(source)
	sh.Deleted = deleted != 0
	sh.DeletedReason = stringPtr(deletedReason)

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

	if deletedAt.Valid {
		ts, tsErr := decodeTime(deletedAt.String)
		if tsErr != nil {
			return nil, tsErr
		}
		sh.DeletedAt = &ts
	}
	ts, err := decodeTime(createdAt)
	if err != nil {
		return nil, err
	}
	sh.CreatedAt = ts
	return &sh, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
