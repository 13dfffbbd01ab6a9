package postgres

import (
	"context"

	"github.com/evalab/resona/internal/store"
)

// UpsertFeedEntry creates the (profileID, shardID) projection row if
// absent. Republishing the same shard keeps the original entry and its
// published_at.
func (s *Store) UpsertFeedEntry(ctx context.Context, entry store.FeedEntry) error {
	const query = `
		INSERT INTO feed_entries (id, shard_id, episode_id, profile_id, published_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (profile_id, shard_id) DO NOTHING`

	_, err := s.db.Exec(ctx, query,
		entry.ID, entry.ShardID, entry.EpisodeID, entry.ProfileID, entry.PublishedAt)
	if err != nil {
		return internalErr("upsert feed entry", err)
	}
	return nil
}

// RemoveFeedEntry deletes the (profileID, shardID) entry. A no-op when
// none exists.
func (s *Store) RemoveFeedEntry(ctx context.Context, profileID, shardID string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM feed_entries WHERE profile_id = $1 AND shard_id = $2",
		profileID, shardID)
	if err != nil {
		return internalErr("remove feed entry", err)
	}
	return nil
}

// ListFeedEntries returns the profile's entries, most recently published
// first.
func (s *Store) ListFeedEntries(ctx context.Context, profileID string) ([]store.FeedEntry, error) {
	const query = `
		SELECT id, shard_id, episode_id, profile_id, published_at
		FROM feed_entries
		WHERE profile_id = $1
		ORDER BY published_at DESC, id DESC`

	rows, err := s.db.Query(ctx, query, profileID)
	if err != nil {
		return nil, internalErr("list feed entries", err)
	}
	defer rows.Close()

	var entries []store.FeedEntry
	for rows.Next() {
		var entry store.FeedEntry
		if scanErr := rows.Scan(&entry.ID, &entry.ShardID, &entry.EpisodeID,
			&entry.ProfileID, &entry.PublishedAt); scanErr != nil {
			return nil, internalErr("list feed entries scan", scanErr)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("list feed entries", err)
	}
	return entries, nil
}
