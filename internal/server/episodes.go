package server

import (
	"context"
	"net/http"
	"time"

	"github.com/evalab/resona/internal/store"
)

// episodeSummaryView is one row of the episode list: the episode plus stats
// denormalized from its shards. The emotion triple comes from the most
// recently created shard, in the legacy flat vocabulary the UI renders.
type episodeSummaryView struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"createdAt"`
	Title           *string   `json:"title,omitempty"`
	Note            *string   `json:"note,omitempty"`
	ShardCount      int       `json:"shardCount"`
	DurationSeconds *float64  `json:"durationSeconds,omitempty"`
	PrimaryEmotion  *string   `json:"primaryEmotion,omitempty"`
	Valence         *string   `json:"valence,omitempty"`
	Arousal         *string   `json:"arousal,omitempty"`
}

// episodeDetailView is the episode summary plus its shards ordered by
// startTime, then createdAt.
type episodeDetailView struct {
	episodeSummaryView
	Shards []shardView `json:"shards"`
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	episodes, err := s.store.ListEpisodes(ctx)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	out := make([]episodeSummaryView, 0, len(episodes))
	for i := range episodes {
		view, err := s.episodeSummary(ctx, &episodes[i])
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ep, err := s.store.GetEpisode(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	summary, err := s.episodeSummary(ctx, ep)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	shards, err := s.store.ListShardsByEpisode(ctx, ep.ID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	views := make([]shardView, 0, len(shards))
	for i := range shards {
		views = append(views, toShardView(&shards[i]))
	}

	writeJSON(w, http.StatusOK, episodeDetailView{
		episodeSummaryView: summary,
		Shards:             views,
	})
}

func (s *Server) handlePatchEpisode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var patch struct {
		Title *string `json:"title"`
		Note  *string `json:"note"`
	}
	if err := readJSON(r, &patch); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	ep, err := s.store.UpdateEpisodeMeta(ctx, r.PathValue("id"), store.EpisodePatch{
		Title: patch.Title,
		Note:  patch.Note,
	})
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	view, err := s.episodeSummary(ctx, ep)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGlobalInsights(w http.ResponseWriter, r *http.Request) {
	out, err := s.insights.Global(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEpisodeInsights(w http.ResponseWriter, r *http.Request) {
	out, err := s.insights.Episode(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// episodeSummary denormalizes an episode's shard stats into the list row.
func (s *Server) episodeSummary(ctx context.Context, ep *store.Episode) (episodeSummaryView, error) {
	shards, err := s.store.ListShardsByEpisode(ctx, ep.ID)
	if err != nil {
		return episodeSummaryView{}, err
	}

	view := episodeSummaryView{
		ID:         ep.ID,
		CreatedAt:  ep.CreatedAt,
		Title:      ep.Title,
		Note:       ep.Note,
		ShardCount: len(shards),
	}

	var minStart, maxEnd *float64
	var latest *store.Shard
	for i := range shards {
		sh := &shards[i]
		if sh.StartTime != nil && (minStart == nil || *sh.StartTime < *minStart) {
			minStart = sh.StartTime
		}
		if sh.EndTime != nil && (maxEnd == nil || *sh.EndTime > *maxEnd) {
			maxEnd = sh.EndTime
		}
		if latest == nil || sh.CreatedAt.After(latest.CreatedAt) {
			latest = sh
		}
	}
	if minStart != nil && maxEnd != nil {
		if d := *maxEnd - *minStart; d >= 0 {
			view.DurationSeconds = &d
		}
	}
	if latest != nil && latest.Analysis != nil {
		view.PrimaryEmotion = docStringPtr(latest.Analysis, "primaryEmotion")
		view.Valence = docStringPtr(latest.Analysis, "valence")
		view.Arousal = docStringPtr(latest.Analysis, "arousal")
	}
	return view, nil
}

func docStringPtr(doc map[string]any, key string) *string {
	if v, ok := doc[key].(string); ok && v != "" {
		return &v
	}
	return nil
}
