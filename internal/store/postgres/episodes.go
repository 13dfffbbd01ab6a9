package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/internal/store"
)

// UpsertEpisode creates the episode if absent. Concurrent first ingest of
// the same id leaves exactly one row.
func (s *Store) UpsertEpisode(ctx context.Context, episodeID string) error {
	if episodeID == "" {
		return fault.New(fault.Validation, fault.CodeInvalidParameters, "episode id must not be empty")
	}
	_, err := s.db.Exec(ctx,
		"INSERT INTO episodes (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", episodeID)
	if err != nil {
		return internalErr("upsert episode", err)
	}
	return nil
}

// GetEpisode fetches one episode.
func (s *Store) GetEpisode(ctx context.Context, episodeID string) (*store.Episode, error) {
	const query = "SELECT id, created_at, title, note FROM episodes WHERE id = $1"

	var ep store.Episode
	err := s.db.QueryRow(ctx, query, episodeID).Scan(&ep.ID, &ep.CreatedAt, &ep.Title, &ep.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, fault.CodeEpisodeNotFound, "episode %s not found", episodeID)
	}
	if err != nil {
		return nil, internalErr("get episode", err)
	}
	return &ep, nil
}

// ListEpisodes returns all episodes, most recently created first.
func (s *Store) ListEpisodes(ctx context.Context) ([]store.Episode, error) {
	const query = `
		SELECT id, created_at, title, note
		FROM episodes
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, internalErr("list episodes", err)
	}
	defer rows.Close()

	var episodes []store.Episode
	for rows.Next() {
		var ep store.Episode
		if scanErr := rows.Scan(&ep.ID, &ep.CreatedAt, &ep.Title, &ep.Note); scanErr != nil {
			return nil, internalErr("list episodes scan", scanErr)
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("list episodes", err)
	}
	return episodes, nil
}

// UpdateEpisodeMeta applies the ignore-nil patch to title/note. COALESCE
// keeps the current value wherever the patch field is absent.
func (s *Store) UpdateEpisodeMeta(ctx context.Context, episodeID string, patch store.EpisodePatch) (*store.Episode, error) {
	const query = `
		UPDATE episodes
		SET title = COALESCE($2, title), note = COALESCE($3, note)
		WHERE id = $1
		RETURNING id, created_at, title, note`

	var ep store.Episode
	err := s.db.QueryRow(ctx, query, episodeID, patch.Title, patch.Note).
		Scan(&ep.ID, &ep.CreatedAt, &ep.Title, &ep.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, fault.CodeEpisodeNotFound, "episode %s not found", episodeID)
	}
	if err != nil {
		return nil, internalErr("update episode meta", err)
	}
	return &ep, nil
}
