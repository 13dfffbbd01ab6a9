// Package lifecycle implements the shard publish/delete state machine and
// the per-profile feed projection.
//
// Publish states advance draft -> reviewed -> readyToPublish -> published;
// the deleted flag is orthogonal and terminal. The feed stores identity and
// timestamp only; everything shown in a feed item is projected live from
// the underlying shard at read time, so later edits surface without a sync
// step.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/internal/store"
)

// DefaultDeleteReason is recorded when the caller supplies none.
const DefaultDeleteReason = "user_deleted"

const defaultSnippetRunes = 160

// FeedEmotion is the denormalized emotion summary shown on a feed item.
type FeedEmotion struct {
	Primary    string   `json:"primary,omitempty"`
	Valence    string   `json:"valence,omitempty"`
	Activation string   `json:"activation,omitempty"`
	Headline   string   `json:"headline,omitempty"`
	Intensity  *float64 `json:"intensity,omitempty"`
}

// FeedItem is one published shard as shown in the profile's feed.
type FeedItem struct {
	ID          string      `json:"id"`
	ShardID     string      `json:"shardId"`
	EpisodeID   *string     `json:"episodeId,omitempty"`
	PublishedAt time.Time   `json:"publishedAt"`
	Emotion     FeedEmotion `json:"emotion"`
	Snippet     string      `json:"snippet"`
}

// Manager drives publish/delete transitions and feed reads.
type Manager struct {
	store        store.Store
	log          *slog.Logger
	now          func() time.Time
	snippetRunes int
}

// Option configures a [Manager].
type Option func(*Manager)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSnippetLength sets the feed transcript snippet length in runes.
func WithSnippetLength(runes int) Option {
	return func(m *Manager) {
		if runes > 0 {
			m.snippetRunes = runes
		}
	}
}

// New creates a [Manager] over the given store.
func New(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:        st,
		log:          slog.Default(),
		now:          time.Now,
		snippetRunes: defaultSnippetRunes,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish transitions the shard to published and upserts its feed entry.
//
// A deleted shard is never publishable, force included. An already
// published shard with force=false is an idempotent no-op that still
// returns the current shard. Without force, analysis.user.status must be
// "readyToPublish". The mutation never touches analysis.user or the
// emotion block.
func (m *Manager) Publish(ctx context.Context, shardID, profileID string, force bool) (*store.Shard, error) {
	sh, err := m.store.UpdateShard(ctx, shardID, func(sh *store.Shard) error {
		if sh.Deleted {
			return fault.Newf(fault.PreconditionFailed, fault.CodeDeletedShard,
				"shard %s is deleted and can never be published", shardID)
		}
		if sh.PublishState == store.StatePublished {
			return nil
		}
		if !force && userStatus(sh) != store.StateReadyToPublish {
			return fault.Newf(fault.PreconditionFailed, fault.CodeNotReadyToPublish,
				"shard %s is not marked readyToPublish", shardID)
		}
		sh.PublishState = store.StatePublished
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry := store.FeedEntry{
		ID:          uuid.NewString(),
		ShardID:     shardID,
		EpisodeID:   sh.EpisodeID,
		ProfileID:   profileID,
		PublishedAt: m.now().UTC(),
	}
	if err := m.store.UpsertFeedEntry(ctx, entry); err != nil {
		return nil, err
	}
	m.log.InfoContext(ctx, "shard published",
		slog.String("shard_id", shardID),
		slog.String("profile_id", profileID),
		slog.Bool("force", force))
	return sh, nil
}

// Delete marks the shard deleted and removes its feed entry for the
// profile. publishState is kept as historical record; the deleted flag
// alone excludes the shard from the feed and from future publishes.
// Deleting an already deleted shard keeps the original reason and
// timestamp.
func (m *Manager) Delete(ctx context.Context, shardID, profileID, reason string) (*store.Shard, error) {
	if reason == "" {
		reason = DefaultDeleteReason
	}
	sh, err := m.store.UpdateShard(ctx, shardID, func(sh *store.Shard) error {
		if sh.Deleted {
			return nil
		}
		now := m.now().UTC()
		sh.Deleted = true
		sh.DeletedReason = &reason
		sh.DeletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := m.store.RemoveFeedEntry(ctx, profileID, shardID); err != nil {
		return nil, err
	}
	m.log.InfoContext(ctx, "shard deleted",
		slog.String("shard_id", shardID),
		slog.String("reason", reason))
	return sh, nil
}

// ListFeed returns the profile's feed, newest first, each item projected
// live from its shard. Entries whose shard has vanished or been deleted
// out-of-band are skipped.
func (m *Manager) ListFeed(ctx context.Context, profileID string) ([]FeedItem, error) {
	entries, err := m.store.ListFeedEntries(ctx, profileID)
	if err != nil {
		return nil, err
	}

	items := make([]FeedItem, 0, len(entries))
	for _, entry := range entries {
		sh, err := m.store.GetShard(ctx, entry.ShardID)
		if err != nil {
			if fault.IsClass(err, fault.NotFound) {
				m.log.WarnContext(ctx, "feed entry points at missing shard",
					slog.String("shard_id", entry.ShardID))
				continue
			}
			return nil, err
		}
		if sh.Deleted {
			continue
		}
		items = append(items, FeedItem{
			ID:          entry.ID,
			ShardID:     entry.ShardID,
			EpisodeID:   entry.EpisodeID,
			PublishedAt: entry.PublishedAt,
			Emotion:     projectEmotion(sh.Analysis),
			Snippet:     snippet(docString(sh.Analysis, "transcript"), m.snippetRunes),
		})
	}
	return items, nil
}

func userStatus(sh *store.Shard) string {
	user, ok := sh.Analysis["user"].(map[string]any)
	if !ok {
		return ""
	}
	status, _ := user["status"].(string)
	return status
}

func projectEmotion(analysis map[string]any) FeedEmotion {
	block, ok := analysis["emotion"].(map[string]any)
	if !ok {
		return FeedEmotion{}
	}
	fe := FeedEmotion{
		Primary:    docString(block, "primary"),
		Valence:    docString(block, "valence"),
		Activation: docString(block, "activation"),
		Headline:   docString(block, "headline"),
	}
	if v, ok := block["intensity"].(float64); ok {
		fe.Intensity = &v
	}
	return fe
}

func docString(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func snippet(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "…"
}
