package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcribe": {"whisper", "whisper-native"},
	"emotion":    {"heuristic"},
	"semantic":   {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Storage
	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: sqlite, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("transcribe", cfg.Providers.Transcribe.Name)
	validateProviderName("transcribe", cfg.Providers.TranscribeFallback.Name)
	validateProviderName("emotion", cfg.Providers.Emotion.Name)
	validateProviderName("semantic", cfg.Providers.Semantic.Name)

	if cfg.Providers.TranscribeFallback.Name != "" && cfg.Providers.Transcribe.Name == "" {
		errs = append(errs, errors.New("providers.transcribe_fallback requires providers.transcribe"))
	}

	if cfg.Providers.Transcribe.Name == "" {
		slog.Warn("no transcription provider configured; shards will carry empty transcripts")
	}
	if cfg.Providers.Semantic.Name == "" {
		slog.Info("no semantic provider configured; the semantic block stays safe-empty")
	}

	// Pipeline
	if cfg.Pipeline.TranscribeTimeout < 0 {
		errs = append(errs, errors.New("pipeline.transcribe_timeout must not be negative"))
	}
	if cfg.Pipeline.EmotionTimeout < 0 {
		errs = append(errs, errors.New("pipeline.emotion_timeout must not be negative"))
	}
	if cfg.Pipeline.SemanticTimeout < 0 {
		errs = append(errs, errors.New("pipeline.semantic_timeout must not be negative"))
	}
	if cfg.Pipeline.SnippetRunes < 0 {
		errs = append(errs, errors.New("pipeline.snippet_runes must not be negative"))
	}
	for i, term := range cfg.Pipeline.Vocabulary {
		if term == "" {
			errs = append(errs, fmt.Errorf("pipeline.vocabulary[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
