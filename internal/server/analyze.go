package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/internal/pipeline"
	"github.com/evalab/resona/internal/store"
	"github.com/evalab/resona/pkg/analysis"
)

// maxUploadBytes bounds the in-memory size of a multipart ingest request.
const maxUploadBytes = 32 << 20

// featureHints is the client-supplied acoustic feature document. The legacy
// client sends intensity/spectralCentroid; newer clients send the document
// keys directly. Either spelling feeds the same hint.
type featureHints struct {
	RMS              *float64 `json:"rms"`
	ZCR              *float64 `json:"zcr"`
	Peak             *float64 `json:"peak"`
	Intensity        *float64 `json:"intensity"`
	CenterFrequency  *float64 `json:"centerFrequency"`
	SpectralCentroid *float64 `json:"spectralCentroid"`
}

func (h featureHints) signalFeatures() analysis.SignalFeatures {
	f := analysis.SignalFeatures{RMS: h.RMS, ZCR: h.ZCR, Peak: h.Peak, CenterFrequency: h.CenterFrequency}
	if f.Peak == nil {
		f.Peak = h.Intensity
	}
	if f.CenterFrequency == nil {
		f.CenterFrequency = h.SpectralCentroid
	}
	return f
}

// handleAnalyzeShard ingests one audio clip: multipart fields audio (file),
// sampleRate, durationSeconds, and optional JSON documents features and
// meta. The pipeline runs before any persistence; a classified rejection
// leaves no rows behind.
func (s *Server) handleAnalyzeShard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := s.now()

	s.metrics.ActiveAnalyses.Add(ctx, 1)
	defer s.metrics.ActiveAnalyses.Add(ctx, -1)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.rejectAnalyze(ctx, w, start, fault.Wrap(fault.Validation, fault.CodeInvalidParameters, "request is not valid multipart form data", err))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.rejectAnalyze(ctx, w, start, fault.New(fault.Validation, fault.CodeInvalidParameters, "audio file field is required"))
		return
	}
	audio, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		s.rejectAnalyze(ctx, w, start, fault.Wrap(fault.Internal, fault.CodeInternal, "reading uploaded audio", err))
		return
	}

	hints := parseFeatureHints(r.FormValue("features"))
	meta := parseMetaDoc(r.FormValue("meta"))

	result, err := s.analyzer.Analyze(ctx, pipeline.Request{
		Audio:           audio,
		ContentType:     header.Header.Get("Content-Type"),
		SampleRate:      r.FormValue("sampleRate"),
		DurationSeconds: r.FormValue("durationSeconds"),
		FeatureHints:    hints.signalFeatures(),
	})
	if err != nil {
		s.rejectAnalyze(ctx, w, start, err)
		return
	}

	doc, err := toDocument(result)
	if err != nil {
		s.rejectAnalyze(ctx, w, start, fault.Wrap(fault.Internal, fault.CodeInternal, "encoding analysis result", err))
		return
	}
	features, err := toDocument(result.SignalFeatures)
	if err != nil {
		s.rejectAnalyze(ctx, w, start, fault.Wrap(fault.Internal, fault.CodeInternal, "encoding signal features", err))
		return
	}

	shard := store.Shard{
		ID:        metaString(meta, "shardId"),
		StartTime: metaFloat(meta, "startTime"),
		EndTime:   metaFloat(meta, "endTime"),
		Meta:      meta,
		Features:  features,
		Analysis:  doc,
	}
	if shard.ID == "" {
		shard.ID = "shard-" + uuid.NewString()
	}
	if src := metaString(meta, "source"); src != "" {
		shard.Source = &src
	}
	if epID := metaString(meta, "episodeId"); epID != "" {
		shard.EpisodeID = &epID
		if err := s.store.UpsertEpisode(ctx, epID); err != nil {
			s.rejectAnalyze(ctx, w, start, err)
			return
		}
	}
	if err := s.store.InsertShard(ctx, shard); err != nil {
		s.rejectAnalyze(ctx, w, start, err)
		return
	}

	s.metrics.RecordAnalyze(ctx, time.Since(start), "ok")
	s.log.InfoContext(ctx, "shard analyzed",
		"shard", shard.ID,
		"episode", metaString(meta, "episodeId"),
		"source", string(result.AnalysisSource),
	)

	// Additive response: the analysis document plus the id the shard was
	// stored under.
	doc["shardId"] = shard.ID
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) rejectAnalyze(ctx context.Context, w http.ResponseWriter, start time.Time, err error) {
	s.metrics.RecordAnalyze(ctx, time.Since(start), "error")
	s.writeError(ctx, w, err)
}

// parseFeatureHints decodes the features form field. Malformed input is
// treated as no hints; the pipeline computes features from the waveform.
func parseFeatureHints(raw string) featureHints {
	var h featureHints
	if raw == "" {
		return h
	}
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return featureHints{}
	}
	return h
}

// parseMetaDoc decodes the meta form field. Malformed input yields an empty
// document.
func parseMetaDoc(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil || doc == nil {
		return map[string]any{}
	}
	return doc
}

// toDocument converts a typed value into the generic JSON document shape the
// store persists.
func toDocument(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func metaString(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func metaFloat(doc map[string]any, key string) *float64 {
	if v, ok := doc[key].(float64); ok {
		return &v
	}
	return nil
}
