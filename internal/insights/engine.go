// Package insights computes read-only aggregates over the stored shards:
// global rollups, per-episode rollups, and the ranked key-moments
// selection. Nothing here is persisted; every call scans the store on
// demand.
package insights

import (
	"context"
	"sort"
	"time"

	"github.com/evalab/resona/internal/store"
	"github.com/evalab/resona/pkg/analysis"
)

// Key-moment reasons.
const (
	ReasonHighestIntensity = "highestIntensity"
	ReasonStrongNegative   = "strongNegative"
	ReasonStrongPositive   = "strongPositive"
)

const (
	maxKeyMoments       = 5
	topFrequencyEntries = 5
	defaultSnippetRunes = 120
)

// FrequencyEntry is one row of a frequency table, most frequent first.
type FrequencyEntry struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// EmotionSummary is the compact emotion projection carried by a key
// moment.
type EmotionSummary struct {
	Primary    string   `json:"primary,omitempty"`
	Valence    string   `json:"valence,omitempty"`
	Activation string   `json:"activation,omitempty"`
	Headline   string   `json:"headline,omitempty"`
	Intensity  *float64 `json:"intensity,omitempty"`
}

// KeyMoment is one selected shard with the reason it was picked.
type KeyMoment struct {
	ShardID   string         `json:"shardId"`
	EpisodeID *string        `json:"episodeId,omitempty"`
	StartTime *float64       `json:"startTime,omitempty"`
	EndTime   *float64       `json:"endTime,omitempty"`
	Reason    string         `json:"reason"`
	Emotion   EmotionSummary `json:"emotion"`
	Snippet   string         `json:"snippet"`
}

// EpisodeSummary identifies the most recently created episode in the
// global rollup.
type EpisodeSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Title     *string   `json:"title,omitempty"`
	Note      *string   `json:"note,omitempty"`
}

// GlobalInsights is the whole-store rollup over non-deleted shards.
type GlobalInsights struct {
	TotalEpisodes        int              `json:"totalEpisodes"`
	TotalShards          int              `json:"totalShards"`
	TotalDurationSeconds float64          `json:"totalDurationSeconds"`
	TopTags              []FrequencyEntry `json:"topTags"`
	TopPublishStates     []FrequencyEntry `json:"topPublishStates"`
	TopEmotions          []FrequencyEntry `json:"topEmotions"`
	LastEpisode          *EpisodeSummary  `json:"lastEpisode,omitempty"`
}

// EpisodeInsights is the per-episode rollup over its non-deleted shards.
type EpisodeInsights struct {
	EpisodeID         string           `json:"episodeId"`
	ShardCount        int              `json:"shardCount"`
	DurationSeconds   *float64         `json:"durationSeconds,omitempty"`
	EmotionShardCount int              `json:"emotionShardCount"`
	FirstStartTime    *float64         `json:"firstStartTime,omitempty"`
	LastStartTime     *float64         `json:"lastStartTime,omitempty"`
	Emotions          []FrequencyEntry `json:"emotions"`
	Valences          []FrequencyEntry `json:"valences"`
	Activations       []FrequencyEntry `json:"activations"`
	KeyMoments        []KeyMoment      `json:"keyMoments"`
}

// Engine computes insights over a store.
type Engine struct {
	store        store.Store
	snippetRunes int
}

// Option configures an [Engine].
type Option func(*Engine)

// WithSnippetLength sets the key-moment transcript snippet length in
// runes.
func WithSnippetLength(runes int) Option {
	return func(e *Engine) {
		if runes > 0 {
			e.snippetRunes = runes
		}
	}
}

// New creates an [Engine] over the given store.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{store: st, snippetRunes: defaultSnippetRunes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Global computes the whole-store rollup.
func (e *Engine) Global(ctx context.Context) (*GlobalInsights, error) {
	episodes, err := e.store.ListEpisodes(ctx)
	if err != nil {
		return nil, err
	}
	shards, err := e.store.ListShards(ctx)
	if err != nil {
		return nil, err
	}

	out := &GlobalInsights{TotalEpisodes: len(episodes)}
	tags := map[string]int{}
	states := map[string]int{}
	emotions := map[string]int{}

	for i := range shards {
		sh := &shards[i]
		if sh.Deleted {
			continue
		}
		out.TotalShards++
		if sh.StartTime != nil && sh.EndTime != nil {
			out.TotalDurationSeconds += *sh.EndTime - *sh.StartTime
		}
		states[sh.PublishState]++
		for _, tag := range userTags(sh) {
			tags[tag]++
		}
		if em := emotionSummary(sh.Analysis); em.Primary != "" {
			emotions[em.Primary]++
		}
	}

	out.TopTags = topFrequencies(tags)
	out.TopPublishStates = topFrequencies(states)
	out.TopEmotions = topFrequencies(emotions)

	// ListEpisodes is newest first.
	if len(episodes) > 0 {
		ep := episodes[0]
		out.LastEpisode = &EpisodeSummary{
			ID:        ep.ID,
			CreatedAt: ep.CreatedAt,
			Title:     ep.Title,
			Note:      ep.Note,
		}
	}
	return out, nil
}

// Episode computes the per-episode rollup, key moments included.
func (e *Engine) Episode(ctx context.Context, episodeID string) (*EpisodeInsights, error) {
	if _, err := e.store.GetEpisode(ctx, episodeID); err != nil {
		return nil, err
	}
	shards, err := e.store.ListShardsByEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	out := &EpisodeInsights{
		EpisodeID:   episodeID,
		Emotions:    []FrequencyEntry{},
		Valences:    []FrequencyEntry{},
		Activations: []FrequencyEntry{},
		KeyMoments:  []KeyMoment{},
	}
	emotions := map[string]int{}
	valences := map[string]int{}
	activations := map[string]int{}
	var live []store.Shard
	var minStart, maxEnd *float64

	for i := range shards {
		sh := &shards[i]
		if sh.Deleted {
			continue
		}
		live = append(live, *sh)
		out.ShardCount++
		if sh.StartTime != nil {
			if out.FirstStartTime == nil || *sh.StartTime < *out.FirstStartTime {
				out.FirstStartTime = sh.StartTime
			}
			if out.LastStartTime == nil || *sh.StartTime > *out.LastStartTime {
				out.LastStartTime = sh.StartTime
			}
			if minStart == nil || *sh.StartTime < *minStart {
				minStart = sh.StartTime
			}
		}
		if sh.EndTime != nil && (maxEnd == nil || *sh.EndTime > *maxEnd) {
			maxEnd = sh.EndTime
		}

		em := emotionSummary(sh.Analysis)
		if em.Primary == "" && em.Valence == "" && em.Activation == "" {
			continue
		}
		out.EmotionShardCount++
		if em.Primary != "" {
			emotions[em.Primary]++
		}
		if v := analysis.MapValence(em.Valence); v != "" {
			valences[string(v)]++
		}
		if a := analysis.MapActivation(em.Activation); a != "" {
			activations[string(a)]++
		}
	}

	if minStart != nil && maxEnd != nil {
		duration := *maxEnd - *minStart
		out.DurationSeconds = &duration
	}
	out.Emotions = topFrequencies(emotions)
	out.Valences = topFrequencies(valences)
	out.Activations = topFrequencies(activations)
	out.KeyMoments = e.selectKeyMoments(live)
	return out, nil
}

// candidate pairs a shard with its derived intensity score.
type candidate struct {
	shard   *store.Shard
	emotion EmotionSummary
	score   float64
}

// selectKeyMoments ranks the shards per the fixed reasons, dedups by shard
// identity, orders by start time, and caps the list. It never pads: an
// episode without negative shards simply has no strongNegative moment.
func (e *Engine) selectKeyMoments(shards []store.Shard) []KeyMoment {
	var candidates []candidate
	for i := range shards {
		sh := &shards[i]
		block, ok := sh.Analysis["emotion"].(map[string]any)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{
			shard:   sh,
			emotion: emotionSummary(sh.Analysis),
			score:   intensityScore(block),
		})
	}
	if len(candidates) == 0 {
		return []KeyMoment{}
	}

	picked := map[string]string{} // shard id -> reason
	pick := func(reason string, match func(candidate) bool) {
		best := -1
		for i, c := range candidates {
			if !match(c) {
				continue
			}
			if _, taken := picked[c.shard.ID]; taken {
				continue
			}
			if best == -1 || c.score > candidates[best].score {
				best = i
			}
		}
		if best >= 0 {
			picked[candidates[best].shard.ID] = reason
		}
	}

	pick(ReasonHighestIntensity, func(candidate) bool { return true })
	pick(ReasonStrongNegative, func(c candidate) bool {
		return analysis.MapValence(c.emotion.Valence) == analysis.ValenceNegative
	})
	pick(ReasonStrongPositive, func(c candidate) bool {
		return analysis.MapValence(c.emotion.Valence) == analysis.ValencePositive
	})

	moments := make([]KeyMoment, 0, len(picked))
	for _, c := range candidates {
		reason, ok := picked[c.shard.ID]
		if !ok {
			continue
		}
		score := c.score
		em := c.emotion
		if em.Intensity == nil {
			em.Intensity = &score
		}
		moments = append(moments, KeyMoment{
			ShardID:   c.shard.ID,
			EpisodeID: c.shard.EpisodeID,
			StartTime: c.shard.StartTime,
			EndTime:   c.shard.EndTime,
			Reason:    reason,
			Emotion:   em,
			Snippet:   snippet(docString(c.shard.Analysis, "transcript"), e.snippetRunes),
		})
	}

	sort.SliceStable(moments, func(i, j int) bool {
		a, b := moments[i].StartTime, moments[j].StartTime
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	if len(moments) > maxKeyMoments {
		moments = moments[:maxKeyMoments]
	}
	return moments
}

// intensityScore derives the ranking score for one emotion block: explicit
// intensity first, then the distribution peak, then the activation ordinal.
func intensityScore(block map[string]any) float64 {
	if v, ok := block["intensity"].(float64); ok {
		return v
	}
	if dist, ok := block["distribution"].(map[string]any); ok && len(dist) > 0 {
		var peak float64
		for _, raw := range dist {
			if p, ok := raw.(float64); ok && p > peak {
				peak = p
			}
		}
		if peak > 0 {
			return peak
		}
	}
	activation, _ := block["activation"].(string)
	return analysis.ActivationOrdinal(analysis.MapActivation(activation))
}

func emotionSummary(doc map[string]any) EmotionSummary {
	block, ok := doc["emotion"].(map[string]any)
	if !ok {
		return EmotionSummary{}
	}
	em := EmotionSummary{
		Primary:    docString(block, "primary"),
		Valence:    docString(block, "valence"),
		Activation: docString(block, "activation"),
		Headline:   docString(block, "headline"),
	}
	if v, ok := block["intensity"].(float64); ok {
		em.Intensity = &v
	}
	return em
}

func userTags(sh *store.Shard) []string {
	user, ok := sh.Analysis["user"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := user["userTags"].([]any)
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(raw))
	for _, v := range raw {
		if tag, ok := v.(string); ok && tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// topFrequencies sorts a counter map by count descending (value ascending
// on ties) and keeps the head of the list.
func topFrequencies(counts map[string]int) []FrequencyEntry {
	entries := make([]FrequencyEntry, 0, len(counts))
	for value, count := range counts {
		entries = append(entries, FrequencyEntry{Value: value, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Value < entries[j].Value
	})
	if len(entries) > topFrequencyEntries {
		entries = entries[:topFrequencyEntries]
	}
	return entries
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
