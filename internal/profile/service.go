// Package profile resolves the acting profile, tracks its activity, and
// manages the invitation quota. There is no real authentication: callers
// act as whatever profile id the transport layer hands in, with
// [DefaultProfileID] as the fallback.
package profile

import (
	"context"
	"log/slog"
	"time"

	"github.com/evalab/resona/internal/store"
)

// DefaultProfileID is the acting profile when the caller names none.
const DefaultProfileID = "local_profile_1"

// historyDays is the length of the progress history window.
const historyDays = 30

// DayActivity is one day of the progress history.
type DayActivity struct {
	Date            string  `json:"date"` // YYYY-MM-DD
	ShardsCreated   int     `json:"shardsCreated"`
	ShardsPublished int     `json:"shardsPublished"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Progress is the profile's activity summary.
type Progress struct {
	ProfileID string        `json:"profileId"`
	Today     DayActivity   `json:"today"`
	History   []DayActivity `json:"history"` // oldest day first, today last
}

// Summary is the outward view of a profile.
type Summary struct {
	ID                   string    `json:"id"`
	Role                 string    `json:"role"`
	State                string    `json:"state"`
	TevScore             float64   `json:"tevScore"`
	DailyStreak          int       `json:"dailyStreak"`
	LastActiveAt         time.Time `json:"lastActiveAt"`
	CreatedAt            time.Time `json:"createdAt"`
	InvitationsGranted   int       `json:"invitationsGranted"`
	InvitationsUsed      int       `json:"invitationsUsed"`
	InvitationsRemaining int       `json:"invitationsRemaining"`
}

// Service is the profile domain service.
type Service struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a [Service] over the given store.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve maps a caller-supplied profile id to the acting profile,
// creating it on first sight. An empty id resolves to [DefaultProfileID].
func (s *Service) Resolve(ctx context.Context, profileID string) (*store.Profile, error) {
	if profileID == "" {
		profileID = DefaultProfileID
	}
	return s.store.GetOrCreateProfile(ctx, profileID)
}

// Summarize resolves the profile and returns its outward view.
func (s *Service) Summarize(ctx context.Context, profileID string) (*Summary, error) {
	p, err := s.Resolve(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		ID:                   p.ID,
		Role:                 p.Role,
		State:                p.State,
		TevScore:             p.TevScore,
		DailyStreak:          p.DailyStreak,
		LastActiveAt:         p.LastActiveAt,
		CreatedAt:            p.CreatedAt,
		InvitationsGranted:   p.InvitationsGranted,
		InvitationsUsed:      p.InvitationsUsed,
		InvitationsRemaining: p.InvitationsRemaining(),
	}, nil
}

// Touch records activity for the profile, creating it if needed.
func (s *Service) Touch(ctx context.Context, profileID string) error {
	p, err := s.Resolve(ctx, profileID)
	if err != nil {
		return err
	}
	return s.store.TouchProfile(ctx, p.ID)
}

// ProgressSummary reports today's activity plus the trailing
// 30-day history, oldest day first. Days are bounded in UTC.
func (s *Service) ProgressSummary(ctx context.Context, profileID string) (*Progress, error) {
	p, err := s.Resolve(ctx, profileID)
	if err != nil {
		return nil, err
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	history := make([]DayActivity, 0, historyDays)
	for offset := historyDays - 1; offset >= 0; offset-- {
		day := today.AddDate(0, 0, -offset)
		activity, err := s.store.DailyActivity(ctx, p.ID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return nil, err
		}
		history = append(history, DayActivity{
			Date:            day.Format("2006-01-02"),
			ShardsCreated:   activity.ShardsCreated,
			ShardsPublished: activity.ShardsPublished,
			DurationSeconds: activity.DurationSeconds,
		})
	}

	return &Progress{
		ProfileID: p.ID,
		Today:     history[len(history)-1],
		History:   history,
	}, nil
}

// Invite issues an invitation against the profile's quota.
func (s *Service) Invite(ctx context.Context, profileID, email string) (*store.Invitation, error) {
	p, err := s.Resolve(ctx, profileID)
	if err != nil {
		return nil, err
	}
	inv, err := s.store.CreateInvitation(ctx, p.ID, email)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "invitation issued",
		slog.String("profile_id", p.ID),
		slog.String("invitation_id", inv.ID))
	return inv, nil
}

// Invitations lists the profile's issued invitations, newest first,
// marking pending ones past their expiry as expired in the returned view.
func (s *Service) Invitations(ctx context.Context, profileID string) ([]store.Invitation, error) {
	p, err := s.Resolve(ctx, profileID)
	if err != nil {
		return nil, err
	}
	invitations, err := s.store.ListInvitations(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for i := range invitations {
		if invitations[i].State == store.InvitationPending && invitations[i].ExpiresAt.Before(now) {
			invitations[i].State = store.InvitationExpired
		}
	}
	return invitations, nil
}
