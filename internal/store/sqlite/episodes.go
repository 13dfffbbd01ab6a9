package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/internal/store"
)

// UpsertEpisode creates the episode if absent. Concurrent first ingest of
// the same id leaves exactly one row.
func (s *Store) UpsertEpisode(ctx context.Context, episodeID string) error {
	if episodeID == "" {
		return fault.New(fault.Validation, fault.CodeInvalidParameters, "episode id must not be empty")
	}
	err := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			"INSERT INTO episodes (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING",
			episodeID, encodeTime(time.Now()),
		)
		return execErr
	})
	if err != nil {
		return internalErr("upsert episode", err)
	}
	return nil
}

// GetEpisode fetches one episode.
func (s *Store) GetEpisode(ctx context.Context, episodeID string) (*store.Episode, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, created_at, title, note FROM episodes WHERE id = ?", episodeID)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, fault.CodeEpisodeNotFound, "episode %s not found", episodeID)
	}
	if err != nil {
		return nil, internalErr("get episode", err)
	}
	return ep, nil
}

// ListEpisodes returns all episodes, most recently created first.
func (s *Store) ListEpisodes(ctx context.Context) ([]store.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, created_at, title, note FROM episodes ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, internalErr("list episodes", err)
	}
	defer rows.Close()

	var episodes []store.Episode
	for rows.Next() {
		ep, scanErr := scanEpisode(rows)
		if scanErr != nil {
			return nil, internalErr("list episodes", scanErr)
		}
		episodes = append(episodes, *ep)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("list episodes", err)
	}
	return episodes, nil
}

// UpdateEpisodeMeta applies the ignore-nil patch to title/note.
func (s *Store) UpdateEpisodeMeta(ctx context.Context, episodeID string, patch store.EpisodePatch) (*store.Episode, error) {
	var updated *store.Episode
	err := retryOnBusy(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx,
			"SELECT id, created_at, title, note FROM episodes WHERE id = ?", episodeID)
		ep, scanErr := scanEpisode(row)
		if scanErr != nil {
			return scanErr
		}
		if patch.Title != nil {
			ep.Title = patch.Title
		}
		if patch.Note != nil {
			ep.Note = patch.Note
		}
		if _, execErr := tx.ExecContext(ctx,
			"UPDATE episodes SET title = ?, note = ? WHERE id = ?",
			nullableString(ep.Title), nullableString(ep.Note), episodeID,
		); execErr != nil {
			return execErr
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return commitErr
		}
		updated = ep
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, fault.CodeEpisodeNotFound, "episode %s not found", episodeID)
	}
	if err != nil {
		return nil, internalErr("update episode meta", err)
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*store.Episode, error) {
	var (
		ep        store.Episode
		createdAt string
		title     sql.NullString
		note      sql.NullString
	)
	if err := row.Scan(&ep.ID, &createdAt, &title, &note); err != nil {
		return nil, err
	}
	ts, err := decodeTime(createdAt)
	if err != nil {
		return nil, err
	}
	ep.CreatedAt = ts
	ep.Title = stringPtr(title)
	ep.Note = stringPtr(note)
	return &ep, nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
