// Package mock provides a scriptable semantic.Analyzer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/evalab/resona/pkg/analysis"
	"github.com/evalab/resona/pkg/provider/semantic"
)

// Compile-time assertion that Analyzer satisfies semantic.Analyzer.
var _ semantic.Analyzer = (*Analyzer)(nil)

// Analyzer records every Analyze call and returns the scripted Block/Err.
// Safe for concurrent use.
type Analyzer struct {
	mu    sync.Mutex
	calls []semantic.Request

	// Block and Err are returned from every Analyze call.
	Block analysis.SemanticBlock
	Err   error

	// BlockUntil, if non-nil, is received from before Analyze returns, or
	// the call aborts with ctx.Err() if the context ends first. Used to
	// exercise stage timeouts.
	BlockUntil <-chan struct{}
}

// Analyze implements semantic.Analyzer.
func (m *Analyzer) Analyze(ctx context.Context, req semantic.Request) (analysis.SemanticBlock, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.BlockUntil != nil {
		select {
		case <-m.BlockUntil:
		case <-ctx.Done():
			return analysis.SemanticBlock{}, ctx.Err()
		}
	}
	if m.Err != nil {
		return analysis.SemanticBlock{}, m.Err
	}
	return m.Block, nil
}

// Calls returns a copy of all recorded requests.
func (m *Analyzer) Calls() []semantic.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]semantic.Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Analyze calls made so far.
func (m *Analyzer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
