// Package mock provides a test double for the transcribe.Provider interface.
//
// Use Provider in unit tests to feed controlled transcriptions without a
// live speech-to-text backend and to verify what audio the orchestrator
// submitted.
package mock

import (
	"context"
	"sync"

	"github.com/evalab/resona/pkg/analysis"
	"github.com/evalab/resona/pkg/provider/transcribe"
)

// Call records a single invocation of Transcribe.
type Call struct {
	// WAV is the audio payload passed to Transcribe.
	WAV []byte
	// SampleRate is the declared sample rate passed to Transcribe.
	SampleRate int
}

// Provider is a mock implementation of transcribe.Provider.
// Zero values cause Transcribe to return an empty Transcription and nil error.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe.
	Result transcribe.Transcription

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// BlockUntil, if non-nil, is received from before Transcribe returns.
	// Close it from the test to unblock; combine with a cancelled context
	// to exercise timeout handling.
	BlockUntil <-chan struct{}

	// SourceLabel is returned by Source. Defaults to analysis.SourceLocal.
	SourceLabel analysis.Source

	// Calls records every Transcribe invocation in order.
	Calls []Call
}

// Compile-time assertion that Provider satisfies transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, wav []byte, sampleRate int) (transcribe.Transcription, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{WAV: wav, SampleRate: sampleRate})
	block := p.BlockUntil
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return transcribe.Transcription{}, ctx.Err()
		}
	}
	if p.Err != nil {
		return transcribe.Transcription{}, p.Err
	}
	return p.Result, nil
}

// Source implements transcribe.Provider.
func (p *Provider) Source() analysis.Source {
	if p.SourceLabel == "" {
		return analysis.SourceLocal
	}
	return p.SourceLabel
}

// CallCount returns the number of recorded Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
