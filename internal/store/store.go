// Package store defines the persistence contract for episodes, shards, the
// feed projection and profile data, plus the domain types shared by its
// sqlite and postgres implementations.
//
// The single most important property an implementation must provide is
// per-shard serialization of read-modify-write mutations: two concurrent
// edits of one shard's analysis document must never lose either editor's
// fields. Both implementations route every shard mutation through
// UpdateShard, which runs the mutation inside a per-row transactional
// boundary and retries on conflict.
package store

import (
	"context"
	"time"
)

// Publish states of a shard. The state only advances through the publish
// operation; published is terminal.
const (
	StateDraft          = "draft"
	StateReviewed       = "reviewed"
	StateReadyToPublish = "readyToPublish"
	StatePublished      = "published"
)

// Invitation states.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRevoked  = "revoked"
	InvitationExpired  = "expired"
)

// Episode is a listening session. Title and Note are its only mutable
// fields and change only through UpdateEpisodeMeta.
type Episode struct {
	ID        string
	CreatedAt time.Time
	Title     *string
	Note      *string
}

// Shard is one analyzed audio clip. The three JSON documents are stored
// verbatim; Analysis carries the pipeline output plus the reserved "user"
// sub-document that only MergeUserFields may write.
type Shard struct {
	ID        string
	EpisodeID *string
	StartTime *float64
	EndTime   *float64
	Source    *string

	Meta     map[string]any
	Features map[string]any
	Analysis map[string]any

	PublishState  string
	Deleted       bool
	DeletedReason *string
	DeletedAt     *time.Time

	CreatedAt time.Time
}

// FeedEntry is one active row of the feed projection. It stores identity
// and timestamp only; everything shown in the feed is projected live from
// the underlying shard at read time.
type FeedEntry struct {
	ID          string
	ShardID     string
	EpisodeID   *string
	ProfileID   string
	PublishedAt time.Time
}

// Profile carries identity and aggregate counters for one acting profile.
type Profile struct {
	ID           string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Role         string
	State        string
	TevScore     float64
	DailyStreak  int
	LastActiveAt time.Time

	InvitationsGranted int
	InvitationsUsed    int
}

// InvitationsRemaining returns the unused invitation quota, never negative.
func (p Profile) InvitationsRemaining() int {
	if r := p.InvitationsGranted - p.InvitationsUsed; r > 0 {
		return r
	}
	return 0
}

// Invitation is a profile-issued token.
type Invitation struct {
	ID        string
	InviterID string
	InviteeID *string
	Email     string
	Code      string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time

	AcceptedAt *time.Time
	RevokedAt  *time.Time
}

// EpisodePatch updates episode metadata. A nil field is absent and leaves
// the current value untouched; supplying nil never clears anything.
type EpisodePatch struct {
	Title *string
	Note  *string
}

// DailyActivity is the per-day activity rollup backing progress summaries.
type DailyActivity struct {
	ShardsCreated   int
	ShardsPublished int
	DurationSeconds float64
}

// Store is the persistence contract. All methods are safe for concurrent
// use. Lookup failures are reported as fault.NotFound errors with the
// matching machine-readable code; conflicts that survive bounded retry
// surface as fault.Internal.
type Store interface {
	// UpsertEpisode creates the episode if absent and is a no-op when it
	// exists. Safe under concurrent first ingest of the same id: exactly
	// one row results and no error is raised for the loser.
	UpsertEpisode(ctx context.Context, episodeID string) error

	// InsertShard stores a new shard verbatim. The shard's episode, when
	// set, must already exist (callers upsert it first).
	InsertShard(ctx context.Context, s Shard) error

	// UpdateShard runs mutate against the current row inside the per-shard
	// serialization boundary and persists the result. The callback may be
	// invoked more than once on conflict retry; it must be pure with
	// respect to its argument. An error from mutate aborts the update and
	// is returned unwrapped.
	UpdateShard(ctx context.Context, shardID string, mutate func(*Shard) error) (*Shard, error)

	// MergeUserFields merges patch into analysis.user, ignoring nil patch
	// values, leaving every other analysis key untouched.
	MergeUserFields(ctx context.Context, shardID string, patch map[string]any) (*Shard, error)

	// UpdateEpisodeMeta applies the ignore-nil patch to title/note.
	UpdateEpisodeMeta(ctx context.Context, episodeID string, patch EpisodePatch) (*Episode, error)

	GetShard(ctx context.Context, shardID string) (*Shard, error)
	GetEpisode(ctx context.Context, episodeID string) (*Episode, error)

	// ListEpisodes returns all episodes, most recently created first.
	ListEpisodes(ctx context.Context) ([]Episode, error)

	// ListShards returns every shard in insertion order.
	ListShards(ctx context.Context) ([]Shard, error)

	// ListShardsByEpisode returns the episode's shards ordered by
	// startTime, then createdAt.
	ListShardsByEpisode(ctx context.Context, episodeID string) ([]Shard, error)

	// UpsertFeedEntry creates the active (profileID, shardID) projection
	// row if absent. Idempotent: an existing active entry is left alone
	// and no duplicate is created.
	UpsertFeedEntry(ctx context.Context, entry FeedEntry) error

	// RemoveFeedEntry deletes the active (profileID, shardID) entry.
	// A no-op when none exists.
	RemoveFeedEntry(ctx context.Context, profileID, shardID string) error

	// ListFeedEntries returns the profile's active entries, most recently
	// published first.
	ListFeedEntries(ctx context.Context, profileID string) ([]FeedEntry, error)

	// GetOrCreateProfile resolves the profile, creating it with default
	// counters on first sight.
	GetOrCreateProfile(ctx context.Context, profileID string) (*Profile, error)

	// TouchProfile bumps lastActiveAt/updatedAt.
	TouchProfile(ctx context.Context, profileID string) error

	// CreateInvitation issues an invitation against the inviter's quota,
	// atomically incrementing the used counter. Returns a
	// precondition_failed fault with code no_invitations_remaining when
	// the quota is exhausted.
	CreateInvitation(ctx context.Context, inviterID, email string) (*Invitation, error)

	// ListInvitations returns the profile's issued invitations, newest
	// first.
	ListInvitations(ctx context.Context, inviterID string) ([]Invitation, error)

	// DailyActivity reports the profile's activity within [from, to).
	DailyActivity(ctx context.Context, profileID string, from, to time.Time) (DailyActivity, error)

	Close() error
}
