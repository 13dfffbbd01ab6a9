// Package transcribe defines the Provider interface for speech-to-text
// backends used by the analysis pipeline.
//
// Unlike a live conversation system, shard analysis is strictly batch: a
// provider receives one complete WAV clip and returns one transcription.
// Providers may be unavailable (no model, no server); callers treat
// [ErrUnavailable] — and any other error — as a recoverable stage failure
// and continue with an empty transcript.
//
// Implementations must be safe for concurrent use.
package transcribe

import (
	"context"
	"errors"

	"github.com/evalab/resona/pkg/analysis"
)

// ErrUnavailable is returned when the backend cannot serve requests at all
// (model not loaded, server unreachable). Callers fall back to an empty
// transcription.
var ErrUnavailable = errors.New("transcribe: backend unavailable")

// Transcription is the result of transcribing one audio clip.
type Transcription struct {
	// Text is the transcribed speech, empty when nothing was recognized.
	Text string

	// Language is the detected (or configured) ISO language code, empty
	// when the backend does not report one.
	Language string

	// Confidence is the language/recognition confidence in [0, 1]. Zero
	// when the backend does not report confidence.
	Confidence float64

	// Source identifies the backend that produced this transcription.
	// Plain providers leave it empty and the orchestrator falls back to
	// [Provider.Source]; failover wrappers set it so the analysis document
	// reflects the backend that actually served the clip.
	Source analysis.Source
}

// Provider is the abstraction over any batch speech-to-text backend.
type Provider interface {
	// Transcribe converts a complete WAV clip to text. sampleRate is the
	// caller-declared rate in Hz, used by backends that decode raw PCM
	// rather than the container.
	Transcribe(ctx context.Context, wav []byte, sampleRate int) (Transcription, error)

	// Source reports whether this backend runs locally or in the cloud.
	// The orchestrator stamps the value onto the analysis document.
	Source() analysis.Source
}
