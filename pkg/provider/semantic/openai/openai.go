// Package openai provides a semantic analyzer backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/evalab/resona/pkg/analysis"
	"github.com/evalab/resona/pkg/provider/semantic"
)

// Compile-time assertion that Analyzer satisfies semantic.Analyzer.
var _ semantic.Analyzer = (*Analyzer)(nil)

const defaultModel = "gpt-4.1-mini"

// Analyzer implements semantic.Analyzer using the OpenAI API.
type Analyzer struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the analyzer.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Analyzer.
type Option func(*config)

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI-backed Analyzer.
func New(apiKey string, opts ...Option) (*Analyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Analyzer{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Analyze implements semantic.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, req semantic.Request) (analysis.SemanticBlock, error) {
	body, err := json.Marshal(semantic.UserPayload{
		Transcript:     req.Transcript,
		Language:       req.Language,
		SignalFeatures: req.Features,
	})
	if err != nil {
		return analysis.SemanticBlock{}, fmt.Errorf("openai: marshal payload: %w", err)
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(a.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(semantic.SystemPrompt),
			oai.UserMessage(string(body)),
		},
		Temperature: oai.Float(0.2),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return analysis.SemanticBlock{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return analysis.SemanticBlock{}, fmt.Errorf("openai: empty choices in response")
	}

	return semantic.DecodeModelOutput(resp.Choices[0].Message.Content)
}
