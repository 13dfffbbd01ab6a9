package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/evalab/resona/pkg/analysis"
	"github.com/evalab/resona/pkg/provider/semantic"
)

// SemanticBreaker wraps a [semantic.Analyzer] with a trip switch so a
// down LLM backend is not hit on every shard. While cooling down it
// reports [semantic.ErrUnavailable], which the pipeline turns into the
// safe-empty semantic block.
type SemanticBreaker struct {
	name    string
	inner   semantic.Analyzer
	breaker *breaker
}

// Compile-time interface assertion.
var _ semantic.Analyzer = (*SemanticBreaker)(nil)

// NewSemanticBreaker wraps inner with a breaker named after the backend.
func NewSemanticBreaker(inner semantic.Analyzer, name string, settings BreakerSettings) *SemanticBreaker {
	return &SemanticBreaker{
		name:    name,
		inner:   inner,
		breaker: newBreaker(name, settings),
	}
}

// Analyze forwards to the wrapped analyzer unless it is cooling down.
func (b *SemanticBreaker) Analyze(ctx context.Context, req semantic.Request) (analysis.SemanticBlock, error) {
	var block analysis.SemanticBlock
	err := b.breaker.call(func() error {
		var innerErr error
		block, innerErr = b.inner.Analyze(ctx, req)
		return innerErr
	})
	if errors.Is(err, ErrTripped) {
		return analysis.SemanticBlock{}, fmt.Errorf("%w: analyzer %s is cooling down", semantic.ErrUnavailable, b.name)
	}
	if err != nil {
		return analysis.SemanticBlock{}, err
	}
	return block, nil
}

// Suspended reports whether the analyzer is currently being skipped.
func (b *SemanticBreaker) Suspended() bool {
	return b.breaker.rejecting()
}
