package main

import (
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/evalab/resona/internal/config"
	"github.com/evalab/resona/internal/resilience"
	"github.com/evalab/resona/pkg/provider/emotion"
	"github.com/evalab/resona/pkg/provider/emotion/heuristic"
	"github.com/evalab/resona/pkg/provider/semantic"
	semanyllm "github.com/evalab/resona/pkg/provider/semantic/anyllm"
	semopenai "github.com/evalab/resona/pkg/provider/semantic/openai"
	"github.com/evalab/resona/pkg/provider/transcribe"
	"github.com/evalab/resona/pkg/provider/transcribe/whisper"
)

// registerBuiltinProviders wires the shipped provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Emotion ───────────────────────────────────────────────────────────────

	reg.RegisterEmotion("heuristic", func(config.ProviderEntry) (emotion.Estimator, error) {
		return heuristic.New(), nil
	})

	// ── Semantic ──────────────────────────────────────────────────────────────

	reg.RegisterSemantic("openai", func(entry config.ProviderEntry) (semantic.Analyzer, error) {
		var opts []semopenai.Option
		if entry.Model != "" {
			opts = append(opts, semopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, semopenai.WithBaseURL(entry.BaseURL))
		}
		return semopenai.New(entry.APIKey, opts...)
	})

	// The remaining semantic backends share one constructor: optional APIKey
	// for hosted APIs, BaseURL for local servers like ollama.
	for _, providerName := range []string{
		"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp",
	} {
		reg.RegisterSemantic(providerName, func(entry config.ProviderEntry) (semantic.Analyzer, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return semanyllm.New(providerName, entry.Model, opts...)
		})
	}

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the pipeline stages named in cfg. The
// transcriber must be configured; emotion defaults to the heuristic
// estimator; an unnamed semantic backend disables the stage.
func buildProviders(cfg *config.Config, reg *config.Registry) (transcribe.Provider, emotion.Estimator, semantic.Analyzer, error) {
	name := cfg.Providers.Transcribe.Name
	if name == "" {
		return nil, nil, nil, fmt.Errorf("providers.transcribe.name is required")
	}
	tr, err := reg.CreateTranscriber(cfg.Providers.Transcribe)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create transcribe provider %q: %w", name, err)
	}
	slog.Info("provider created", "kind", "transcribe", "name", name)

	if fbName := cfg.Providers.TranscribeFallback.Name; fbName != "" {
		fb, err := reg.CreateTranscriber(cfg.Providers.TranscribeFallback)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create transcribe fallback %q: %w", fbName, err)
		}
		chain := resilience.NewTranscribeFallback(tr, name, resilience.BreakerSettings{})
		chain.AddFallback(fbName, fb)
		tr = chain
		slog.Info("transcribe failover enabled", "primary", name, "fallback", fbName)
	}

	var est emotion.Estimator
	if name := cfg.Providers.Emotion.Name; name != "" {
		est, err = reg.CreateEmotion(cfg.Providers.Emotion)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create emotion provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "emotion", "name", name)
	} else {
		est = heuristic.New()
		slog.Info("provider created", "kind", "emotion", "name", "heuristic (default)")
	}

	var sem semantic.Analyzer
	if name := cfg.Providers.Semantic.Name; name != "" {
		inner, err := reg.CreateSemantic(cfg.Providers.Semantic)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create semantic provider %q: %w", name, err)
		}
		// The breaker stops a down LLM backend from being hit on every
		// shard; a tripped analyzer yields the safe-empty block instead.
		sem = resilience.NewSemanticBreaker(inner, name, resilience.BreakerSettings{})
		slog.Info("provider created", "kind", "semantic", "name", name)
	} else {
		slog.Info("semantic stage disabled; responses carry the safe-empty block")
	}

	return tr, est, sem, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
