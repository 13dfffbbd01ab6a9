// Package mock provides a scriptable emotion.Estimator for tests.
package mock

import (
	"context"
	"sync"

	"github.com/evalab/resona/pkg/provider/emotion"
)

// Compile-time assertion that Estimator satisfies emotion.Estimator.
var _ emotion.Estimator = (*Estimator)(nil)

// Estimator records every Estimate call and returns the scripted Result/Err.
// Safe for concurrent use.
type Estimator struct {
	mu    sync.Mutex
	calls []emotion.Request

	// Result and Err are returned from every Estimate call.
	Result emotion.Result
	Err    error

	// BlockUntil, if non-nil, is received from before Estimate returns, or
	// the call aborts with ctx.Err() if the context ends first. Used to
	// exercise stage timeouts.
	BlockUntil <-chan struct{}
}

// Estimate implements emotion.Estimator.
func (m *Estimator) Estimate(ctx context.Context, req emotion.Request) (emotion.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.BlockUntil != nil {
		select {
		case <-m.BlockUntil:
		case <-ctx.Done():
			return emotion.Result{}, ctx.Err()
		}
	}
	if m.Err != nil {
		return emotion.Result{}, m.Err
	}
	return m.Result, nil
}

// Calls returns a copy of all recorded requests.
func (m *Estimator) Calls() []emotion.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]emotion.Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Estimate calls made so far.
func (m *Estimator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
