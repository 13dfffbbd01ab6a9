// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/evalab/resona/pkg/analysis"
	"github.com/evalab/resona/pkg/provider/transcribe"
)

// Compile-time assertion that NativeProvider satisfies transcribe.Provider.
var _ transcribe.Provider = (*NativeProvider)(nil)

// NativeProvider implements transcribe.Provider using whisper.cpp Go
// bindings (CGO), eliminating HTTP overhead entirely. The model is loaded
// once at construction and shared across all concurrent Transcribe calls;
// each call creates its own whisper context, which is the binding's unit of
// thread safety.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription (e.g., "es",
// "en"). Defaults to "es".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Source implements transcribe.Provider.
func (p *NativeProvider) Source() analysis.Source { return analysis.SourceLocal }

// Transcribe implements transcribe.Provider. It decodes the WAV container,
// downmixes to float32 mono, runs whisper.cpp inference on a fresh context,
// and returns the concatenated segment text.
func (p *NativeProvider) Transcribe(ctx context.Context, wav []byte, _ int) (transcribe.Transcription, error) {
	if err := ctx.Err(); err != nil {
		return transcribe.Transcription{}, err
	}
	if p.model == nil {
		return transcribe.Transcription{}, transcribe.ErrUnavailable
	}

	wf, err := analysis.DecodeWAV(wav)
	if err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisper: decode wav: %w", err)
	}
	samples := toFloat32Mono(wf)

	wctx, err := p.model.NewContext()
	if err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcribe.Transcription{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return transcribe.Transcription{
		Text:     strings.Join(parts, " "),
		Language: p.language,
	}, nil
}

// toFloat32Mono converts decoded 16-bit PCM to the normalized float32 mono
// samples whisper.cpp expects, averaging channels when necessary.
func toFloat32Mono(w analysis.Waveform) []float32 {
	ch := w.Channels
	if ch <= 0 {
		ch = 1
	}
	frames := len(w.Samples) / ch
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < ch; c++ {
			sum += int32(w.Samples[i*ch+c])
		}
		out[i] = float32(sum/int32(ch)) / 32768.0
	}
	return out
}
