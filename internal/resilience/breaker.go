// Package resilience keeps flaky analysis backends from dragging the
// ingest path down. Transcription backends form a failover chain
// ([TranscribeFallback]) and the semantic analyzer sits behind a trip
// switch ([SemanticBreaker]); both share the same breaker underneath.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrTripped is reported while a backend is cooling down after too many
// consecutive failures.
var ErrTripped = errors.New("backend tripped")

// BreakerSettings tunes failure tolerance and recovery pacing. The zero
// value means defaults.
type BreakerSettings struct {
	// TripAfter is the consecutive-failure count that trips the breaker.
	// Default: 5.
	TripAfter int

	// Cooldown is how long a tripped backend is skipped before a trial
	// call is let through. Default: 30s.
	Cooldown time.Duration

	// TrialSuccesses is how many consecutive successful trial calls it
	// takes for a tripped backend to recover. Default: 3.
	TrialSuccesses int
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.TripAfter <= 0 {
		s.TripAfter = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.TrialSuccesses <= 0 {
		s.TrialSuccesses = 3
	}
	return s
}

// breaker is a consecutive-failure trip switch. Tripped, it rejects calls
// for the cool-down period, then admits trial calls; TrialSuccesses
// consecutive successes clear it, any trial failure restarts the
// cool-down.
type breaker struct {
	name     string
	settings BreakerSettings

	mu        sync.Mutex
	failures  int
	trials    int
	trippedAt time.Time // zero while the breaker is clear
}

func newBreaker(name string, settings BreakerSettings) *breaker {
	return &breaker{name: name, settings: settings.withDefaults()}
}

// call runs fn unless the breaker is rejecting, and feeds the outcome
// back into the trip accounting.
func (b *breaker) call(fn func() error) error {
	if b.rejecting() {
		return ErrTripped
	}
	err := fn()
	b.observe(err)
	return err
}

// rejecting reports whether calls are currently refused.
func (b *breaker) rejecting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.trippedAt.IsZero() && time.Since(b.trippedAt) < b.settings.Cooldown
}

func (b *breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.trippedAt.IsZero() {
			return
		}
		b.trials++
		if b.trials >= b.settings.TrialSuccesses {
			b.trippedAt = time.Time{}
			b.trials = 0
			slog.Info("backend recovered", "backend", b.name)
		}
		return
	}

	b.failures++
	b.trials = 0
	if !b.trippedAt.IsZero() {
		// A failed trial call restarts the cool-down.
		b.trippedAt = time.Now()
		slog.Warn("backend failed its trial call, cooling down again",
			"backend", b.name)
		return
	}
	if b.failures >= b.settings.TripAfter {
		b.trippedAt = time.Now()
		slog.Warn("backend tripped",
			"backend", b.name,
			"consecutive_failures", b.failures)
	}
}
