package sqlite

import (
	"context"
	"database/sql"

	"github.com/evalab/resona/internal/store"
)

// UpsertFeedEntry creates the (profileID, shardID) projection row if
// absent. Republishing the same shard keeps the original entry and its
// published_at.
func (s *Store) UpsertFeedEntry(ctx context.Context, entry store.FeedEntry) error {
	err := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO feed_entries (id, shard_id, episode_id, profile_id, published_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (profile_id, shard_id) DO NOTHING`,
			entry.ID, entry.ShardID, nullableString(entry.EpisodeID),
			entry.ProfileID, encodeTime(entry.PublishedAt),
		)
		return execErr
	})
	if err != nil {
		return internalErr("upsert feed entry", err)
	}
	return nil
}

// RemoveFeedEntry deletes the (profileID, shardID) entry. A no-op when
// none exists.
func (s *Store) RemoveFeedEntry(ctx context.Context, profileID, shardID string) error {
	err := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			"DELETE FROM feed_entries WHERE profile_id = ? AND shard_id = ?",
			profileID, shardID)
		return execErr
	})
	if err != nil {
		return internalErr("remove feed entry", err)
	}
	return nil
}

// ListFeedEntries returns the profile's entries, most recently published
// first.
func (s *Store) ListFeedEntries(ctx context.Context, profileID string) ([]store.FeedEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shard_id, episode_id, profile_id, published_at
		FROM feed_entries
		WHERE profile_id = ?
		ORDER BY published_at DESC, id DESC`, profileID)
	if err != nil {
		return nil, internalErr("list feed entries", err)
	}
	defer rows.Close()

	var entries []store.FeedEntry
	for rows.Next() {
		var (
			entry       store.FeedEntry
			episodeID   sql.NullString
			publishedAt string
		)
		if scanErr := rows.Scan(&entry.ID, &entry.ShardID, &episodeID,
			&entry.ProfileID, &publishedAt); scanErr != nil {
			return nil, internalErr("list feed entries", scanErr)
		}
		entry.EpisodeID = stringPtr(episodeID)
		ts, tsErr := decodeTime(publishedAt)
		if tsErr != nil {
			return nil, internalErr("list feed entries", tsErr)
		}
		entry.PublishedAt = ts
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("list feed entries", err)
	}
	return entries, nil
}
