// Package anthropic provides a provider.Provider backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/agentrelay/provider"
)

// Compile-time check that Provider satisfies provider.Provider.
var _ provider.Provider = (*Provider)(nil)

// Options configures the Anthropic adapter (model id, API key). Extend via
// functional options to preserve stability.
type Options struct {
	Model  anthropic.Model
	APIKey string
}

// Provider wraps the Anthropic Messages API behind the generic
// provider.Provider interface.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

// New creates an Anthropic provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model: anthropic.ModelClaude3_5Sonnet20241022,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Provider{client: &client, opts: opts}
}

// NewFromClient creates an Anthropic provider from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model: anthropic.ModelClaude3_5Sonnet20241022,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// WithModel sets the model id.
func WithModel(model anthropic.Model) func(o *Options) {
	return func(o *Options) { o.Model = model }
}

// WithAPIKey sets the API key explicitly instead of reading the environment.
func WithAPIKey(key string) func(o *Options) {
	return func(o *Options) { o.APIKey = key }
}

// Generate produces a text completion via the Messages API.
func (p *Provider) Generate(ctx context.Context, prompt string, optFns ...func(o *provider.GenerateOptions)) (*provider.Response, error) {
	opts := provider.DefaultGenerateOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	params := anthropic.MessageNewParams{
		Model:       p.opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: anthropic.Float(opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.System}}
	}

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.AsText().Text
		}
	}

	return &provider.Response{
		Content:    content,
		Model:      string(p.opts.Model),
		Provider:   p.Name(),
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		Latency:    time.Since(start),
	}, nil
}

// GenerateJSON produces a structured response by instructing the model to
// emit bare JSON and decoding the completion.
func (p *Provider) GenerateJSON(ctx context.Context, prompt string, optFns ...func(o *provider.GenerateOptions)) (map[string]any, error) {
	opts := provider.DefaultGenerateOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	system := opts.System
	if system != "" {
		system += "\n"
	}
	system += "You must respond with valid JSON only, no markdown."

	resp, err := p.Generate(ctx, prompt+provider.JSONInstruction,
		provider.WithSystem(system),
		provider.WithTemperature(0.3),
		provider.WithMaxTokens(opts.MaxTokens),
	)
	if err != nil {
		return nil, err
	}
	return provider.DecodeJSON(resp.Content)
}

// Name returns the backend name.
func (p *Provider) Name() string { return "anthropic" }

// Model returns the configured model id.
func (p *Provider) Model() string { return string(p.opts.Model) }
