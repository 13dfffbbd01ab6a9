package server

import (
	"net/http"
	"time"

	"github.com/evalab/resona/internal/lifecycle"
	"github.com/evalab/resona/internal/store"
)

// shardView is the outward shape of one shard with its documents.
type shardView struct {
	ID            string         `json:"id"`
	EpisodeID     *string        `json:"episodeId,omitempty"`
	StartTime     *float64       `json:"startTime,omitempty"`
	EndTime       *float64       `json:"endTime,omitempty"`
	Source        *string        `json:"source,omitempty"`
	PublishState  string         `json:"publishState"`
	Deleted       bool           `json:"deleted"`
	DeletedReason *string        `json:"deletedReason,omitempty"`
	DeletedAt     *time.Time     `json:"deletedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	Meta          map[string]any `json:"meta"`
	Features      map[string]any `json:"features"`
	Analysis      map[string]any `json:"analysis"`
}

func toShardView(sh *store.Shard) shardView {
	v := shardView{
		ID:            sh.ID,
		EpisodeID:     sh.EpisodeID,
		StartTime:     sh.StartTime,
		EndTime:       sh.EndTime,
		Source:        sh.Source,
		PublishState:  sh.PublishState,
		Deleted:       sh.Deleted,
		DeletedReason: sh.DeletedReason,
		DeletedAt:     sh.DeletedAt,
		CreatedAt:     sh.CreatedAt,
		Meta:          sh.Meta,
		Features:      sh.Features,
		Analysis:      sh.Analysis,
	}
	if v.Meta == nil {
		v.Meta = map[string]any{}
	}
	if v.Features == nil {
		v.Features = map[string]any{}
	}
	if v.Analysis == nil {
		v.Analysis = map[string]any{}
	}
	return v
}

func (s *Server) handleGetShard(w http.ResponseWriter, r *http.Request) {
	sh, err := s.store.GetShard(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShardView(sh))
}

// shardPatch is the user-editable sub-document patch. A nil field is absent
// and never clears anything.
type shardPatch struct {
	Status             *string   `json:"status"`
	UserTags           *[]string `json:"userTags"`
	UserNotes          *string   `json:"userNotes"`
	TranscriptOverride *string   `json:"transcriptOverride"`
}

func (p shardPatch) toMap() map[string]any {
	patch := map[string]any{}
	if p.Status != nil {
		patch["status"] = *p.Status
	}
	if p.UserTags != nil {
		patch["userTags"] = *p.UserTags
	}
	if p.UserNotes != nil {
		patch["userNotes"] = *p.UserNotes
	}
	if p.TranscriptOverride != nil {
		patch["transcriptOverride"] = *p.TranscriptOverride
	}
	return patch
}

func (s *Server) handlePatchShard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var patch shardPatch
	if err := readJSON(r, &patch); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	sh, err := s.store.MergeUserFields(ctx, r.PathValue("id"), patch.toMap())
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShardView(sh))
}

func (s *Server) handlePublishShard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Force bool `json:"force"`
	}
	if err := readJSON(r, &body); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	sh, err := s.lifecycle.Publish(ctx, r.PathValue("id"), s.profileID(r), body.Force)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.metrics.RecordPublish(ctx)
	writeJSON(w, http.StatusOK, toShardView(sh))
}

func (s *Server) handleDeleteShard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &body); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if body.Reason == "" {
		body.Reason = lifecycle.DefaultDeleteReason
	}

	sh, err := s.lifecycle.Delete(ctx, r.PathValue("id"), s.profileID(r), body.Reason)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.metrics.RecordDelete(ctx, body.Reason)
	writeJSON(w, http.StatusOK, toShardView(sh))
}
