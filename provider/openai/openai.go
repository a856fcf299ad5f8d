// Package openai provides a provider.Provider backed by the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentrelay/provider"
)

// Compile-time check that Provider satisfies provider.Provider.
var _ provider.Provider = (*Provider)(nil)

// Options configures the OpenAI adapter (model id, API key).
type Options struct {
	Model  openai.ChatModel
	APIKey string
}

// Provider wraps the OpenAI Chat Completions API behind the generic
// provider.Provider interface.
type Provider struct {
	client *openai.Client
	opts   Options
}

// New creates an OpenAI provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model: openai.ChatModelGPT4oMini,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Provider{client: &client, opts: opts}
}

// NewFromClient creates an OpenAI provider from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model: openai.ChatModelGPT4oMini,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// WithModel sets the model id.
func WithModel(model openai.ChatModel) func(o *Options) {
	return func(o *Options) { o.Model = model }
}

// WithAPIKey sets the API key explicitly instead of reading the environment.
func WithAPIKey(key string) func(o *Options) {
	return func(o *Options) { o.APIKey = key }
}

// Generate produces a text completion via the Chat Completions API.
func (p *Provider) Generate(ctx context.Context, prompt string, optFns ...func(o *provider.GenerateOptions)) (*provider.Response, error) {
	opts := provider.DefaultGenerateOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if opts.System != "" {
		messages = append(messages, openai.SystemMessage(opts.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               p.opts.Model,
		Temperature:         openai.Float(opts.Temperature),
		MaxCompletionTokens: openai.Int(opts.MaxTokens),
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &provider.Response{
		Content:    resp.Choices[0].Message.Content,
		Model:      string(p.opts.Model),
		Provider:   p.Name(),
		TokensUsed: int(resp.Usage.TotalTokens),
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
func (p *Provider) Name() string { return "openai" }

// Model returns the configured model id.
func (p *Provider) Model() string { return string(p.opts.Model) }
