package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the config file and pushes hot-reloadable changes to an
// apply callback. Polling instead of fsnotify keeps the dependency
// surface flat and survives editors that replace the file wholesale.
//
// Only the changes tracked by [Diff] reach the callback; anything else in
// the file (storage, providers, listen address) needs a restart and is
// deliberately ignored here.
type Watcher struct {
	path  string
	every time.Duration
	apply func(ConfigDiff, *Config)

	mu          sync.Mutex
	current     *Config
	fingerprint [sha256.Size]byte

	stop     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.every = d
		}
	}
}

// NewWatcher loads path once, then polls it in the background. apply runs
// with the change set and the full new config whenever a valid, different
// file appears; an invalid or unreadable file keeps the last good config
// in place.
func NewWatcher(path string, apply func(ConfigDiff, *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:  path,
		every: 5 * time.Second,
		apply: apply,
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.fingerprint = sum

	go w.run()
	return w, nil
}

// Current returns the last good config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the background polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Watcher) run() {
	tick := time.NewTicker(w.every)
	defer tick.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-tick.C:
			w.reload()
		}
	}
}

// reload swaps in the file's content if it parses, validates, and differs
// from the last good config.
func (w *Watcher) reload() {
	cfg, sum, err := w.read()
	if err != nil {
		slog.Warn("config reload skipped", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if sum == w.fingerprint {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.fingerprint = sum
	w.mu.Unlock()

	d := Diff(old, cfg)
	if !d.Any() {
		slog.Info("config file changed, nothing hot-reloadable in it", "path", w.path)
		return
	}
	slog.Info("config reloaded", "path", w.path)
	if w.apply != nil {
		w.apply(d, cfg)
	}
}

// read parses and validates the file, returning its content hash for
// change detection.
func (w *Watcher) read() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
