// Package whisper provides transcribe.Provider implementations backed by
// whisper.cpp: a client for a running whisper-server binary (REST API at
// POST /inference) and, in native.go, an in-process CGO binding.
//
// whisper.cpp is a batch transcription engine, which matches the shard
// pipeline exactly: one complete WAV clip in, one transcript out.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("es"))
//	tr, err := p.Transcribe(ctx, wavBytes, 16000)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/evalab/resona/pkg/analysis"
	"github.com/evalab/resona/pkg/provider/transcribe"
)

const (
	defaultLanguage = "es"
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "medium"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "es", "en"). Defaults to "es".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s. The
// orchestrator additionally bounds every stage with its own context
// deadline; the shorter of the two wins.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements transcribe.Provider against a whisper-server instance.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New constructs a Provider talking to the whisper-server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Source implements transcribe.Provider. A whisper-server deployment is
// treated as a local backend.
func (p *Provider) Source() analysis.Source { return analysis.SourceLocal }

// Transcribe implements transcribe.Provider. It uploads the WAV clip as a
// multipart form to POST /inference and returns the recognized text.
// Connection failures are reported as [transcribe.ErrUnavailable].
func (p *Provider) Transcribe(ctx context.Context, wav []byte, _ int) (transcribe.Transcription, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return transcribe.Transcription{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return transcribe.Transcription{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return transcribe.Transcription{}, fmt.Errorf("whisper: %w: %v", transcribe.ErrUnavailable, err)
		}
		return transcribe.Transcription{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return transcribe.Transcription{}, fmt.Errorf("whisper: %w: server returned HTTP 503", transcribe.ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return transcribe.Transcription{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Prob     float64 `json:"language_probability"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	lang := result.Language
	if lang == "" {
		lang = p.language
	}
	return transcribe.Transcription{
		Text:       strings.TrimSpace(result.Text),
		Language:   lang,
		Confidence: result.Prob,
	}, nil
}
