// Package emotion defines the Estimator interface for speech emotion
// recognition backends.
//
// An estimator consumes the transcript together with acoustic features of the
// shard and returns a categorical emotion estimate in the legacy vocabulary
// (alegria, enojo, cansancio, neutro with positivo/neutral/negativo valence
// and bajo/medio/alto arousal). The analysis orchestrator maps the legacy
// labels to the structured vocabulary when it assembles the document, so
// estimators never need to know about the English label set.
//
// Implementations must be safe for concurrent use.
package emotion

import (
	"context"
	"errors"

	"github.com/evalab/resona/pkg/analysis"
)

// ErrUnavailable is returned when the estimator's underlying model is not
// loaded or cannot be reached. The orchestrator treats it as a recoverable
// condition and falls back to a neutral estimate.
var ErrUnavailable = errors.New("emotion: estimator unavailable")

// Request carries the inputs of one estimate. Transcript may be empty when
// transcription failed; Intensity and DurationSeconds are nil when the
// corresponding signal feature could not be computed.
type Request struct {
	Transcript      string
	Intensity       *float64
	DurationSeconds *float64
}

// Result is a categorical emotion estimate in the legacy vocabulary.
type Result struct {
	Primary string
	Valence string
	Arousal string
	Labels  []analysis.LabelScore
	Prosody analysis.ProsodyFlags
}

// Estimator produces an emotion estimate for one shard.
type Estimator interface {
	// Estimate returns the emotion estimate for the given inputs. It must
	// respect ctx cancellation and return ErrUnavailable (possibly wrapped)
	// when the backing model cannot serve.
	Estimate(ctx context.Context, req Request) (Result, error)
}
