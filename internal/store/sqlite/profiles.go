package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

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
	err := retryOnBusy(ctx, func() error {
		now := encodeTime(time.Now())
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO profiles (id, created_at, updated_at, last_active_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			profileID, now, now, now)
		return execErr
	})
	if err != nil {
		return nil, internalErr("create profile", err)
	}
	return s.getProfile(ctx, profileID)
}

func (s *Store) getProfile(ctx context.Context, profileID string) (*store.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE id = ?", profileID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, fault.CodeProfileNotFound, "profile %s not found", profileID)
	}
	if err != nil {
		return nil, internalErr("get profile", err)
	}
	return p, nil
}

// TouchProfile bumps lastActiveAt/updatedAt.
func (s *Store) TouchProfile(ctx context.Context, profileID string) error {
	err := retryOnBusy(ctx, func() error {
		now := encodeTime(time.Now())
		res, execErr := s.db.ExecContext(ctx,
			"UPDATE profiles SET last_active_at = ?, updated_at = ? WHERE id = ?",
			now, now, profileID)
		if execErr != nil {
			return execErr
		}
		affected, raErr := res.RowsAffected()
		if raErr != nil {
			return raErr
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return fault.Newf(fault.NotFound, fault.CodeProfileNotFound, "profile %s not found", profileID)
	}
	if err != nil {
		return internalErr("touch profile", err)
	}
	return nil
}

// CreateInvitation issues an invitation against the inviter's quota. The
// quota check and the used-counter increment happen in one transaction, so
// concurrent issuers can never overspend.
func (s *Store) CreateInvitation(ctx context.Context, inviterID, email string) (*store.Invitation, error) {
	if email == "" {
		return nil, fault.New(fault.Validation, fault.CodeInvalidParameters, "invitation email must not be empty")
	}
	var (
		created  *store.Invitation
		quotaErr error
	)
	err := retryOnBusy(ctx, func() error {
		quotaErr = nil
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer func() { _ = tx.Rollback() }()

		var granted, used int
		if scanErr := tx.QueryRowContext(ctx,
			"SELECT invitations_granted, invitations_used FROM profiles WHERE id = ?",
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
		if _, execErr := tx.ExecContext(ctx, `
			INSERT INTO invitations (id, inviter_id, email, code, state, created_at, updated_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, inv.InviterID, inv.Email, inv.Code, inv.State,
			encodeTime(inv.CreatedAt), encodeTime(inv.UpdatedAt), encodeTime(inv.ExpiresAt),
		); execErr != nil {
			return execErr
		}
		if _, execErr := tx.ExecContext(ctx,
			"UPDATE profiles SET invitations_used = invitations_used + 1, updated_at = ? WHERE id = ?",
			encodeTime(now), inviterID,
		); execErr != nil {
			return execErr
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return commitErr
		}
		created = &inv
		return nil
	})
	if err != nil {
		if quotaErr != nil {
			return nil, quotaErr
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, fault.CodeProfileNotFound, "profile %s not found", inviterID)
		}
		return nil, internalErr("create invitation", err)
	}
	return created, nil
}

// ListInvitations returns the profile's issued invitations, newest first.
func (s *Store) ListInvitations(ctx context.Context, inviterID string) ([]store.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, inviter_id, invitee_id, email, code, state,
		       created_at, updated_at, expires_at, accepted_at, revoked_at
		FROM invitations
		WHERE inviter_id = ?
		ORDER BY created_at DESC, id DESC`, inviterID)
	if err != nil {
		return nil, internalErr("list invitations", err)
	}
	defer rows.Close()

	var invitations []store.Invitation
	for rows.Next() {
		var (
			inv        store.Invitation
			inviteeID  sql.NullString
			createdAt  string
			updatedAt  string
			expiresAt  string
			acceptedAt sql.NullString
			revokedAt  sql.NullString
		)
		if scanErr := rows.Scan(&inv.ID, &inv.InviterID, &inviteeID, &inv.Email,
			&inv.Code, &inv.State, &createdAt, &updatedAt, &expiresAt,
			&acceptedAt, &revokedAt); scanErr != nil {
			return nil, internalErr("list invitations", scanErr)
		}
		inv.InviteeID = stringPtr(inviteeID)

		var tsErr error
		if inv.CreatedAt, tsErr = decodeTime(createdAt); tsErr != nil {
			return nil, internalErr("list invitations", tsErr)
		}
		if inv.UpdatedAt, tsErr = decodeTime(updatedAt); tsErr != nil {
			return nil, internalErr("list invitations", tsErr)
		}
		if inv.ExpiresAt, tsErr = decodeTime(expiresAt); tsErr != nil {
			return nil, internalErr("list invitations", tsErr)
		}
		if acceptedAt.Valid {
			ts, parseErr := decodeTime(acceptedAt.String)
			if parseErr != nil {
				return nil, internalErr("list invitations", parseErr)
			}
			inv.AcceptedAt = &ts
		}
		if revokedAt.Valid {
			ts, parseErr := decodeTime(revokedAt.String)
			if parseErr != nil {
				return nil, internalErr("list invitations", parseErr)
			}
			inv.RevokedAt = &ts
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("list invitations", err)
	}
	return invitations, nil
}

// DailyActivity reports activity within [from, to). Shards are not
// profile-scoped in the local deployment, so creation and duration count
// every shard; publishes come from the profile's feed entries.
func (s *Store) DailyActivity(ctx context.Context, profileID string, from, to time.Time) (store.DailyActivity, error) {
	var activity store.DailyActivity

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1), COALESCE(SUM(COALESCE(end_time, 0) - COALESCE(start_time, 0)), 0)
		FROM shards
		WHERE created_at >= ? AND created_at < ?`,
		encodeTime(from), encodeTime(to),
	).Scan(&activity.ShardsCreated, &activity.DurationSeconds)
	if err != nil {
		return store.DailyActivity{}, internalErr("daily activity", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM feed_entries
		WHERE profile_id = ? AND published_at >= ? AND published_at < ?`,
		profileID, encodeTime(from), encodeTime(to),
	).Scan(&activity.ShardsPublished)
	if err != nil {
		return store.DailyActivity{}, internalErr("daily activity", err)
	}
	return activity, nil
}

func scanProfile(row rowScanner) (*store.Profile, error) {
	var (
		p            store.Profile
		createdAt    string
		updatedAt    string
		lastActiveAt string
	)
	if err := row.Scan(&p.ID, &createdAt, &updatedAt, &p.Role, &p.State,
		&p.TevScore, &p.DailyStreak, &lastActiveAt,
		&p.InvitationsGranted, &p.InvitationsUsed); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	if p.LastActiveAt, err = decodeTime(lastActiveAt); err != nil {
		return nil, err
	}
	return &p, nil
}
