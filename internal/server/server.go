// Package server wires the analysis pipeline, the store, and the domain
// services into the HTTP API.
//
// The API is additive-only across versions: response documents may grow new
// fields, no field is ever removed or repurposed, and the flat legacy
// emotion fields stay populated alongside the structured emotion block.
// Failures carry a stable machine-readable code in the body
// (`{"error": code, "message": ...}`) so the UI can branch programmatically.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/internal/health"
	"github.com/evalab/resona/internal/insights"
	"github.com/evalab/resona/internal/lifecycle"
	"github.com/evalab/resona/internal/observe"
	"github.com/evalab/resona/internal/pipeline"
	"github.com/evalab/resona/internal/profile"
	"github.com/evalab/resona/internal/store"
	"github.com/evalab/resona/pkg/analysis"
)

// profileHeader names the header carrying the acting profile id. Requests
// without it act as the local default profile.
const profileHeader = "X-Profile-Id"

// Analyzer runs the multi-stage analysis over one uploaded clip.
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.Request) (analysis.Result, error)
}

// Config carries the collaborators of a [Server].
type Config struct {
	Store     store.Store
	Analyzer  Analyzer
	Lifecycle *lifecycle.Manager
	Insights  *insights.Engine
	Profiles  *profile.Service
	Health    *health.Handler

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// DefaultProfile is the acting profile when requests carry no
	// X-Profile-Id header. Defaults to [profile.DefaultProfileID].
	DefaultProfile string
}

// Server is the HTTP API over the shard analysis and lifecycle subsystem.
type Server struct {
	store     store.Store
	analyzer  Analyzer
	lifecycle *lifecycle.Manager
	insights  *insights.Engine
	profiles  *profile.Service
	health    *health.Handler
	metrics   *observe.Metrics
	log       *slog.Logger
	profile   string
	now       func() time.Time
}

// New creates a [Server] from cfg.
func New(cfg Config) *Server {
	s := &Server{
		store:     cfg.Store,
		analyzer:  cfg.Analyzer,
		lifecycle: cfg.Lifecycle,
		insights:  cfg.Insights,
		profiles:  cfg.Profiles,
		health:    cfg.Health,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		profile:   cfg.DefaultProfile,
		now:       time.Now,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.profile == "" {
		s.profile = profile.DefaultProfileID
	}
	return s
}

// Handler returns the fully routed handler with the observe middleware
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /analyze-shard", s.handleAnalyzeShard)

	mux.HandleFunc("GET /episodes", s.handleListEpisodes)
	mux.HandleFunc("GET /episodes/insights", s.handleGlobalInsights)
	mux.HandleFunc("GET /episodes/{id}", s.handleGetEpisode)
	mux.HandleFunc("GET /episodes/{id}/insights", s.handleEpisodeInsights)
	mux.HandleFunc("PATCH /episodes/{id}", s.handlePatchEpisode)

	mux.HandleFunc("GET /shards/{id}", s.handleGetShard)
	mux.HandleFunc("PATCH /shards/{id}", s.handlePatchShard)
	mux.HandleFunc("POST /shards/{id}/publish", s.handlePublishShard)
	mux.HandleFunc("POST /shards/{id}/delete", s.handleDeleteShard)

	mux.HandleFunc("GET /me", s.handleMe)
	mux.HandleFunc("GET /me/progress", s.handleMeProgress)
	mux.HandleFunc("GET /me/invitations", s.handleMeInvitations)
	mux.HandleFunc("GET /me/feed", s.handleMeFeed)
	mux.HandleFunc("POST /invitations", s.handleCreateInvitation)

	if s.health != nil {
		s.health.Register(mux)
	}
}

// profileID resolves the acting profile id from the request header,
// defaulting to the configured local profile.
func (s *Server) profileID(r *http.Request) string {
	if id := r.Header.Get(profileHeader); id != "" {
		return id
	}
	return s.profile
}

// errorBody is the JSON shape of every failure response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusOf maps an error class to its HTTP status.
func statusOf(class fault.Class) int {
	switch class {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.ResourceUnavailable:
		return http.StatusServiceUnavailable
	case fault.NotFound:
		return http.StatusNotFound
	case fault.PreconditionFailed:
		// Clients branch on the error code, not the status; precondition
		// failures answer 400 like every other rejected request.
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError renders err as a classified JSON error response. Unclassified
// errors become 500 internal_error without leaking the cause chain.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(fault.ClassOf(err))
	body := errorBody{Error: fault.CodeInternal, Message: "internal error"}
	var fe *fault.Error
	if errors.As(err, &fe) {
		body = errorBody{Error: fe.Code, Message: fe.Message}
	}
	if status == http.StatusInternalServerError {
		s.log.ErrorContext(ctx, "request failed", "error", err)
	}
	writeJSON(w, status, body)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"internal_error","message":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// readJSON decodes the request body into v. An empty body leaves v at its
// zero value so optional request bodies stay optional.
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fault.Wrap(fault.Validation, fault.CodeInvalidParameters, "malformed JSON body", err)
	}
	return nil
}
