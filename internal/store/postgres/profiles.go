package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/internal/store"
)

// invitationTTL is how long an issued invitation stays redeemable.
const invitationTTL = 14 * 24 * time.Hour

const profileColumns = `id, created_at, updated_at, role, state, tev_score,
	daily_streak, last_active_at, invitations_granted, invitations_used`

// GetOrCreateProfile resolves the profile, creating it with default
// counters on first sight.
func (s *Store) GetOrCreateProfile(ctx context.Context, profileID string) (*store.Profile, error) {
	if profileID == "" {
		return nil, fault.New(fault.Validation, fault.CodeInvalidParameters, "profile id must not be empty")
	}
	if _, err := s.db.Exec(ctx,
		"INSERT INTO profiles (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", profileID); err != nil {
		return nil, internalErr("create profile", err)
	}

	row := s.db.QueryRow(ctx, "SELECT "+profileColumns+" FROM profiles WHERE id = $1", profileID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, fault.CodeProfileNotFound, "profile %s not found", profileID)
	}
	if err != nil {
		return nil, internalErr("get profile", err)
	}
	return p, nil
}

// TouchProfile bumps lastActiveAt/updatedAt.
func (s *Store) TouchProfile(ctx context.Context, profileID string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE profiles SET last_active_at = now(), updated_at = now() WHERE id = $1", profileID)
	if err != nil {
		return internalErr("touch profile", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.NotFound, fault.CodeProfileNotFound, "profile %s not found", profileID)
	}
	return nil
}

// CreateInvitation issues an invitation against the inviter's quota. The
// row lock on the profile serializes concurrent issuers, so the quota can
// never be overspent.
func (s *Store) CreateInvitation(ctx context.Context, inviterID, email string) (*store.Invitation, error) {
	if email == "" {
		return nil, fault.New(fault.Validation, fault.CodeInvalidParameters, "invitation email must not be empty")
	}
	var (
		created  *store.Invitation
		quotaErr error
	)
	err := retryOnConflict(ctx, func() error {
		quotaErr = nil
		tx, txErr := s.db.Begin(ctx)
		if txErr != nil {
			return txErr
		}
		defer func() { _ = tx.Rollback(ctx) }()

		var granted, used int
		if scanErr := tx.QueryRow(ctx,
			"SELECT invitations_granted, invitations_used FROM profiles WHERE id = $1 FOR UPDATE",
			inviterID,
		).Scan(&granted, &used); scanErr != nil {
			return scanErr
		}
		if used >= granted {
			quotaErr = fault.Newf(fault.PreconditionFailed, fault.CodeNoInvitationsLeft,
				"profile %s has no invitations remaining", inviterID)
			return quotaErr
		}

		now := time.Now().UTC()
		inv := store.Invitation{
			ID:        uuid.NewString(),
			InviterID: inviterID,
			Email:     email,
			Code:      uuid.NewString(),
			State:     store.InvitationPending,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: now.Add(invitationTTL),
		}
		if _, execErr := tx.Exec(ctx, `
			INSERT INTO invitations (id, inviter_id, email, code, state, created_at, updated_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			inv.ID, inv.InviterID, inv.Email, inv.Code, inv.State,
			inv.CreatedAt, inv.UpdatedAt, inv.ExpiresAt,
		); execErr != nil {
			return execErr
		}
		if _, execErr := tx.Exec(ctx,
			"UPDATE profiles SET invitations_used = invitations_used + 1, updated_at = now() WHERE id = $1",
			inviterID,
		); execErr != nil {
			return execErr
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return commitErr
		}
		created = &inv
		return nil
	})
	if err != nil {
		if quotaErr != nil {
			return nil, quotaErr
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, fault.CodeProfileNotFound, "profile %s not found", inviterID)
		}
		return nil, internalErr("create invitation", err)
	}
	return created, nil
}

// ListInvitations returns the profile's issued invitations, newest first.
func (s *Store) ListInvitations(ctx context.Context, inviterID string) ([]store.Invitation, error) {
	const query = `
		SELECT id, inviter_id, invitee_id, email, code, state,
		       created_at, updated_at, expires_at, accepted_at, revoked_at
		FROM invitations
		WHERE inviter_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(ctx, query, inviterID)
	if err != nil {
		return nil, internalErr("list invitations", err)
	}
	defer rows.Close()

	var invitations []store.Invitation
	for rows.Next() {
		var inv store.Invitation
		if scanErr := rows.Scan(&inv.ID, &inv.InviterID, &inv.InviteeID, &inv.Email,
			&inv.Code, &inv.State, &inv.CreatedAt, &inv.UpdatedAt, &inv.ExpiresAt,
			&inv.AcceptedAt, &inv.RevokedAt); scanErr != nil {
			return nil, internalErr("list invitations scan", scanErr)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("list invitations", err)
	}
	return invitations, nil
}

// DailyActivity reports activity within [from, to). Shards are not
// profile-scoped, so creation and duration count every shard; publishes
// come from the profile's feed entries.
func (s *Store) DailyActivity(ctx context.Context, profileID string, from, to time.Time) (store.DailyActivity, error) {
	var activity store.DailyActivity

	err := s.db.QueryRow(ctx, `
		SELECT COUNT(1), COALESCE(SUM(COALESCE(end_time, 0) - COALESCE(start_time, 0)), 0)
		FROM shards
		WHERE created_at >= $1 AND created_at < $2`,
		from, to,
	).Scan(&activity.ShardsCreated, &activity.DurationSeconds)
	if err != nil {
		return store.DailyActivity{}, internalErr("daily activity", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(1)
		FROM feed_entries
		WHERE profile_id = $1 AND published_at >= $2 AND published_at < $3`,
		profileID, from, to,
	).Scan(&activity.ShardsPublished)
	if err != nil {
		return store.DailyActivity{}, internalErr("daily activity", err)
	}
	return activity, nil
}

func scanProfile(row pgx.Row) (*store.Profile, error) {
	var p store.Profile
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &p.Role, &p.State,
		&p.TevScore, &p.DailyStreak, &p.LastActiveAt,
		&p.InvitationsGranted, &p.InvitationsUsed); err != nil {
		return nil, err
	}
	return &p, nil
}
