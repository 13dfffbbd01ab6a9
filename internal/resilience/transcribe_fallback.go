package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evalab/resona/pkg/analysis"
	"github.com/evalab/resona/pkg/provider/transcribe"
)

// ErrBackendsExhausted is returned when every transcription backend in
// the chain failed or is cooling down.
var ErrBackendsExhausted = errors.New("every transcription backend failed")

// TranscribeFallback implements [transcribe.Provider] with failover
// across a chain of transcription backends, typically a whisper server
// with an in-process native model behind it. Each backend has its own
// breaker; a tripped backend is skipped until its cool-down elapses.
type TranscribeFallback struct {
	settings BreakerSettings
	backends []transcribeBackend
}

type transcribeBackend struct {
	name     string
	provider transcribe.Provider
	breaker  *breaker
}

// Compile-time interface assertion.
var _ transcribe.Provider = (*TranscribeFallback)(nil)

// NewTranscribeFallback starts a chain with primary as the preferred
// backend. Further backends are appended with [TranscribeFallback.AddFallback].
func NewTranscribeFallback(primary transcribe.Provider, name string, settings BreakerSettings) *TranscribeFallback {
	f := &TranscribeFallback{settings: settings}
	f.AddFallback(name, primary)
	return f
}

// AddFallback appends a backend. Backends are tried in the order they
// were added.
func (f *TranscribeFallback) AddFallback(name string, provider transcribe.Provider) {
	f.backends = append(f.backends, transcribeBackend{
		name:     name,
		provider: provider,
		breaker:  newBreaker(name, f.settings),
	})
}

// Transcribe runs the clip against the first backend that is not cooling
// down and succeeds. The returned transcription carries the serving
// backend's source so the analysis document reflects who actually
// transcribed the clip, not merely who was preferred.
func (f *TranscribeFallback) Transcribe(ctx context.Context, wav []byte, sampleRate int) (transcribe.Transcription, error) {
	lastErr := ErrTripped
	for i := range f.backends {
		b := &f.backends[i]
		if b.breaker.rejecting() {
			slog.Debug("skipping tripped transcription backend", "backend", b.name)
			continue
		}

		var tr transcribe.Transcription
		err := b.breaker.call(func() error {
			var callErr error
			tr, callErr = b.provider.Transcribe(ctx, wav, sampleRate)
			return callErr
		})
		if err == nil {
			tr.Source = b.provider.Source()
			return tr, nil
		}
		lastErr = err
		slog.Warn("transcription backend failed, trying next",
			"backend", b.name, "error", err)
	}
	return transcribe.Transcription{}, fmt.Errorf("%w: %v", ErrBackendsExhausted, lastErr)
}

// Source reports the preferred backend's source. Per-clip results carry
// the serving backend's source instead; this is only the chain's static
// answer for callers that never transcribe.
func (f *TranscribeFallback) Source() analysis.Source {
	return f.backends[0].provider.Source()
}
