// Package semantic defines the Analyzer interface for LLM-backed semantic
// analysis of shard transcripts.
//
// An analyzer produces the semantic block of the analysis document: a short
// summary, topic keywords, a moment-type classification and follow-up/crisis
// flags. When a backend cannot serve (no credentials, network failure,
// malformed model output) the orchestrator substitutes the fixed safe-empty
// block instead of failing the pipeline, so implementations report errors and
// never fabricate content.
//
// Implementations must be safe for concurrent use.
package semantic

import (
	"context"
	"errors"

	"github.com/evalab/resona/pkg/analysis"
)

// ErrUnavailable is returned when the analyzer's backend cannot be reached
// or is not configured.
var ErrUnavailable = errors.New("semantic: analyzer unavailable")

// Moment types an analyzer may assign. Unknown values from a backend are
// coerced to MomentOther.
const (
	MomentCheckIn   = "check-in"
	MomentVenting   = "desahogo"
	MomentCrisis    = "crisis"
	MomentMemory    = "recuerdo"
	MomentGoal      = "meta"
	MomentGratitude = "agradecimiento"
	MomentOther     = "otro"
)

// Request carries the inputs of one semantic analysis. Features is nil when
// no signal features are available.
type Request struct {
	Transcript string
	Language   string
	Features   *analysis.SignalFeatures
}

// Analyzer produces the semantic block for one shard.
type Analyzer interface {
	// Analyze returns the semantic block for the given transcript. It must
	// respect ctx cancellation and return ErrUnavailable (possibly wrapped)
	// when the backend cannot serve.
	Analyze(ctx context.Context, req Request) (analysis.SemanticBlock, error)
}

// KnownMoment reports whether v is one of the fixed moment types.
func KnownMoment(v string) bool {
	switch v {
	case MomentCheckIn, MomentVenting, MomentCrisis, MomentMemory, MomentGoal, MomentGratitude, MomentOther:
		return true
	}
	return false
}
