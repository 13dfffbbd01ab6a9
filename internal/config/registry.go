package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/evalab/resona/pkg/provider/emotion"
	"github.com/evalab/resona/pkg/provider/semantic"
	"github.com/evalab/resona/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transcribe map[string]func(ProviderEntry) (transcribe.Provider, error)
	emotion    map[string]func(ProviderEntry) (emotion.Estimator, error)
	semantic   map[string]func(ProviderEntry) (semantic.Analyzer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcribe: make(map[string]func(ProviderEntry) (transcribe.Provider, error)),
		emotion:    make(map[string]func(ProviderEntry) (emotion.Estimator, error)),
		semantic:   make(map[string]func(ProviderEntry) (semantic.Analyzer, error)),
	}
}

// RegisterTranscriber registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (transcribe.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribe[name] = factory
}

// RegisterEmotion registers an emotion estimator factory under name.
func (r *Registry) RegisterEmotion(name string, factory func(ProviderEntry) (emotion.Estimator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emotion[name] = factory
}

// RegisterSemantic registers a semantic analyzer factory under name.
func (r *Registry) RegisterSemantic(name string, factory func(ProviderEntry) (semantic.Analyzer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.semantic[name] = factory
}

// CreateTranscriber instantiates a transcription provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (transcribe.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcribe[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcribe/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmotion instantiates an emotion estimator using the factory
// registered under entry.Name.
func (r *Registry) CreateEmotion(entry ProviderEntry) (emotion.Estimator, error) {
	r.mu.RLock()
	factory, ok := r.emotion[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: emotion/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSemantic instantiates a semantic analyzer using the factory
// registered under entry.Name.
func (r *Registry) CreateSemantic(entry ProviderEntry) (semantic.Analyzer, error) {
	r.mu.RLock()
	factory, ok := r.semantic[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: semantic/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
