package insights

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/internal/store"
	"github.com/evalab/resona/internal/store/sqlite"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, store.Store) {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "resona.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, opts...), st
}

func f64p(f float64) *float64 { return &f }

func strp(s string) *string { return &s }

func emotionShard(id, episodeID string, start, end float64, primary, valence, activation string, intensity *float64) store.Shard {
	block := map[string]any{
		"primary":    primary,
		"valence":    valence,
		"activation": activation,
	}
	if intensity != nil {
		block["intensity"] = *intensity
	}
	return store.Shard{
		ID:        id,
		EpisodeID: strp(episodeID),
		StartTime: f64p(start),
		EndTime:   f64p(end),
		Analysis: map[string]any{
			"transcript": "transcript of " + id,
			"emotion":    block,
		},
	}
}

func seedEpisode(t *testing.T, st store.Store, episodeID string, shards ...store.Shard) {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertEpisode(ctx, episodeID); err != nil {
		t.Fatalf("upsert episode: %v", err)
	}
	for _, sh := range shards {
		if err := st.InsertShard(ctx, sh); err != nil {
			t.Fatalf("insert shard %s: %v", sh.ID, err)
		}
	}
}

func TestGlobalInsightsRollup(t *testing.T) {
	t.Parallel()

	e, st := newTestEngine(t)
	ctx := context.Background()

	seedEpisode(t, st, "ep-1",
		emotionShard("sh-1", "ep-1", 0, 4, "alegria", "positive", "high", f64p(0.8)),
		emotionShard("sh-2", "ep-1", 4, 10, "neutro", "neutral", "medium", nil),
	)
	seedEpisode(t, st, "ep-2",
		emotionShard("sh-3", "ep-2", 0, 3, "alegria", "positive", "medium", nil),
	)

	// Tags and a published state on one shard.
	_, err := st.UpdateShard(ctx, "sh-1", func(sh *store.Shard) error {
		sh.PublishState = store.StatePublished
		sh.Analysis["user"] = map[string]any{"userTags": []any{"walk", "family"}}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateShard: %v", err)
	}

	// A deleted shard must not count anywhere.
	deleted := emotionShard("sh-gone", "ep-2", 3, 50, "enojo", "negative", "high", f64p(0.9))
	deleted.Deleted = true
	if err := st.InsertShard(ctx, deleted); err != nil {
		t.Fatalf("insert deleted shard: %v", err)
	}

	got, err := e.Global(ctx)
	if err != nil {
		t.Fatalf("Global: %v", err)
	}
	if got.TotalEpisodes != 2 {
		t.Errorf("total episodes = %d, want 2", got.TotalEpisodes)
	}
	if got.TotalShards != 3 {
		t.Errorf("total shards = %d, want 3", got.TotalShards)
	}
	if got.TotalDurationSeconds != 13 {
		t.Errorf("total duration = %v, want 13", got.TotalDurationSeconds)
	}
	if len(got.TopEmotions) == 0 || got.TopEmotions[0].Value != "alegria" || got.TopEmotions[0].Count != 2 {
		t.Errorf("top emotions = %+v", got.TopEmotions)
	}
	if len(got.TopTags) != 2 {
		t.Errorf("top tags = %+v", got.TopTags)
	}
	if len(got.TopPublishStates) == 0 || got.TopPublishStates[0].Value != store.StateDraft {
		t.Errorf("top publish states = %+v", got.TopPublishStates)
	}
	if got.LastEpisode == nil || got.LastEpisode.ID != "ep-2" {
		t.Errorf("last episode = %+v", got.LastEpisode)
	}
}

func TestGlobalInsightsEmptyStore(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	got, err := e.Global(context.Background())
	if err != nil {
		t.Fatalf("Global: %v", err)
	}
	if got.TotalEpisodes != 0 || got.TotalShards != 0 || got.LastEpisode != nil {
		t.Errorf("unexpected rollup on empty store: %+v", got)
	}
}

func TestEpisodeInsightsRollup(t *testing.T) {
	t.Parallel()

	e, st := newTestEngine(t)
	ctx := context.Background()

	seedEpisode(t, st, "ep-1",
		emotionShard("sh-1", "ep-1", 2, 6, "alegria", "positive", "high", f64p(0.8)),
		emotionShard("sh-2", "ep-1", 8, 15, "enojo", "negative", "medium", nil),
		store.Shard{ID: "sh-plain", EpisodeID: strp("ep-1"), StartTime: f64p(16), EndTime: f64p(18)},
	)

	got, err := e.Episode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("Episode: %v", err)
	}
	if got.ShardCount != 3 {
		t.Errorf("shard count = %d, want 3", got.ShardCount)
	}
	if got.EmotionShardCount != 2 {
		t.Errorf("emotion shard count = %d, want 2", got.EmotionShardCount)
	}
	// max end (18) minus min start (2).
	if got.DurationSeconds == nil || *got.DurationSeconds != 16 {
		t.Errorf("duration = %v, want 16", got.DurationSeconds)
	}
	if got.FirstStartTime == nil || *got.FirstStartTime != 2 {
		t.Errorf("first start = %v", got.FirstStartTime)
	}
	if got.LastStartTime == nil || *got.LastStartTime != 16 {
		t.Errorf("last start = %v", got.LastStartTime)
	}
	if len(got.Valences) != 2 {
		t.Errorf("valences = %+v", got.Valences)
	}
}

func TestEpisodeInsightsNoTiming(t *testing.T) {
	t.Parallel()

	e, st := newTestEngine(t)
	seedEpisode(t, st, "ep-1", store.Shard{ID: "sh-1", EpisodeID: strp("ep-1")})

	got, err := e.Episode(context.Background(), "ep-1")
	if err != nil {
		t.Fatalf("Episode: %v", err)
	}
	if got.DurationSeconds != nil {
		t.Errorf("duration must be absent without timing, got %v", *got.DurationSeconds)
	}
}

func TestEpisodeInsightsNotFound(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	_, err := e.Episode(context.Background(), "missing")
	if fault.CodeOf(err) != fault.CodeEpisodeNotFound {
		t.Fatalf("expected episode_not_found, got %v", err)
	}
}

func TestKeyMomentsReasonsAndOrder(t *testing.T) {
	t.Parallel()

	e, st := newTestEngine(t)
	seedEpisode(t, st, "ep-1",
		// Highest overall intensity, positive.
		emotionShard("sh-peak", "ep-1", 20, 24, "alegria", "positive", "high", f64p(0.95)),
		// Strongest negative.
		emotionShard("sh-angry", "ep-1", 5, 9, "enojo", "negative", "high", f64p(0.7)),
		// Second positive, becomes strongPositive because sh-peak is taken.
		emotionShard("sh-glad", "ep-1", 12, 14, "alegria", "positive", "medium", f64p(0.4)),
		// Weak neutral, never selected.
		emotionShard("sh-flat", "ep-1", 0, 2, "neutro", "neutral", "low", f64p(0.1)),
	)

	got, err := e.Episode(context.Background(), "ep-1")
	if err != nil {
		t.Fatalf("Episode: %v", err)
	}
	moments := got.KeyMoments
	if len(moments) != 3 {
		t.Fatalf("expected 3 key moments, got %d: %+v", len(moments), moments)
	}

	// Ordered by start time, not by selection order.
	wantOrder := []struct{ id, reason string }{
		{"sh-angry", ReasonStrongNegative},
		{"sh-glad", ReasonStrongPositive},
		{"sh-peak", ReasonHighestIntensity},
	}
	for i, want := range wantOrder {
		if moments[i].ShardID != want.id || moments[i].Reason != want.reason {
			t.Errorf("moment %d = %s/%s, want %s/%s",
				i, moments[i].ShardID, moments[i].Reason, want.id, want.reason)
		}
	}
	if moments[2].Emotion.Intensity == nil || *moments[2].Emotion.Intensity != 0.95 {
		t.Errorf("peak intensity not carried: %v", moments[2].Emotion.Intensity)
	}
	if moments[0].Snippet == "" {
		t.Error("key moment missing transcript snippet")
	}
}

func TestKeyMomentsNeverPadded(t *testing.T) {
	t.Parallel()

	e, st := newTestEngine(t)
	// All neutral: only highestIntensity can fire.
	seedEpisode(t, st, "ep-1",
		emotionShard("sh-1", "ep-1", 0, 2, "neutro", "neutral", "medium", f64p(0.3)),
		emotionShard("sh-2", "ep-1", 2, 4, "neutro", "neutral", "low", f64p(0.1)),
	)

	got, err := e.Episode(context.Background(), "ep-1")
	if err != nil {
		t.Fatalf("Episode: %v", err)
	}
	if len(got.KeyMoments) != 1 {
		t.Fatalf("expected 1 key moment, got %d", len(got.KeyMoments))
	}
	if got.KeyMoments[0].Reason != ReasonHighestIntensity {
		t.Errorf("reason = %q", got.KeyMoments[0].Reason)
	}
}

func TestKeyMomentsIntensityFallbacks(t *testing.T) {
	t.Parallel()

	e, st := newTestEngine(t)
	// No explicit intensity: distribution peak wins over activation ordinal.
	distShard := store.Shard{
		ID:        "sh-dist",
		EpisodeID: strp("ep-1"),
		StartTime: f64p(0),
		Analysis: map[string]any{
			"emotion": map[string]any{
				"primary": "tristeza",
				"valence": "negative",
				"distribution": map[string]any{
					"tristeza": 0.65,
					"neutro":   0.35,
				},
			},
		},
	}
	// Neither intensity nor distribution: activation ordinal (low=1).
	ordinalShard := store.Shard{
		ID:        "sh-ord",
		EpisodeID: strp("ep-1"),
		StartTime: f64p(5),
		Analysis: map[string]any{
			"emotion": map[string]any{
				"primary":    "neutro",
				"valence":    "neutral",
				"activation": "low",
			},
		},
	}
	seedEpisode(t, st, "ep-1", distShard, ordinalShard)

	got, err := e.Episode(context.Background(), "ep-1")
	if err != nil {
		t.Fatalf("Episode: %v", err)
	}
	// Ordinal 1 beats distribution peak 0.65 for highestIntensity.
	var byReason = map[string]string{}
	for _, m := range got.KeyMoments {
		byReason[m.Reason] = m.ShardID
	}
	if byReason[ReasonHighestIntensity] != "sh-ord" {
		t.Errorf("highestIntensity = %q, want sh-ord", byReason[ReasonHighestIntensity])
	}
	if byReason[ReasonStrongNegative] != "sh-dist" {
		t.Errorf("strongNegative = %q, want sh-dist", byReason[ReasonStrongNegative])
	}
}

func TestKeyMomentsExcludeDeleted(t *testing.T) {
	t.Parallel()

	e, st := newTestEngine(t)
	gone := emotionShard("sh-gone", "ep-1", 0, 2, "enojo", "negative", "high", f64p(0.99))
	gone.Deleted = true
	seedEpisode(t, st, "ep-1",
		gone,
		emotionShard("sh-live", "ep-1", 2, 4, "alegria", "positive", "medium", f64p(0.5)),
	)

	got, err := e.Episode(context.Background(), "ep-1")
	if err != nil {
		t.Fatalf("Episode: %v", err)
	}
	for _, m := range got.KeyMoments {
		if m.ShardID == "sh-gone" {
			t.Error("deleted shard selected as key moment")
		}
	}
}

func TestTopFrequenciesSortsAndCaps(t *testing.T) {
	t.Parallel()

	counts := map[string]int{
		"a": 3, "b": 3, "c": 1, "d": 5, "e": 2, "f": 1, "g": 1,
	}
	got := topFrequencies(counts)
	if len(got) != topFrequencyEntries {
		t.Fatalf("expected %d entries, got %d", topFrequencyEntries, len(got))
	}
	if got[0].Value != "d" || got[1].Value != "a" || got[2].Value != "b" {
		t.Errorf("unexpected order: %+v", got)
	}
}
