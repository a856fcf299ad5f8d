// Package provider abstracts language-model backends behind a small
// Generate/GenerateJSON interface with response caching and multi-backend
// fallback.
//
// Concrete adapters live in the subpackages (anthropic, openai); Chain
// composes them with a shared Cache and tries backends in order, returning an
// empty response instead of an error when every backend fails, so provider
// trouble never propagates into the coordination core. MockProvider supports
// testing without network access.
package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Response is the normalized result of one model call.
type Response struct {
	Content    string        `json:"content"`
	Model      string        `json:"model"`
	Provider   string        `json:"provider"`
	TokensUsed int           `json:"tokens_used"`
	Cached     bool          `json:"cached"`
	Latency    time.Duration `json:"latency"`
}

// GenerateOptions tune one generation call.
type GenerateOptions struct {
	// System is the optional system prompt.
	System string
	// Temperature controls sampling randomness.
	Temperature float64
	// MaxTokens caps the completion length.
	MaxTokens int64
}

// DefaultGenerateOptions returns the baseline generation parameters.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{Temperature: 0.7, MaxTokens: 1000}
}

// WithSystem sets the system prompt.
func WithSystem(system string) func(o *GenerateOptions) {
	return func(o *GenerateOptions) { o.System = system }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) func(o *GenerateOptions) {
	return func(o *GenerateOptions) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) func(o *GenerateOptions) {
	return func(o *GenerateOptions) { o.MaxTokens = n }
}

// Provider is a language-model backend.
type Provider interface {
	// Generate produces a text completion for the prompt.
	Generate(ctx context.Context, prompt string, optFns ...func(o *GenerateOptions)) (*Response, error)
	// GenerateJSON produces a structured response for the prompt.
	GenerateJSON(ctx context.Context, prompt string, optFns ...func(o *GenerateOptions)) (map[string]any, error)
	// Name identifies the backend ("anthropic", "openai", ...).
	Name() string
	// Model returns the default model id of this backend.
	Model() string
}

// JSONInstruction is appended to prompts by adapters that request structured
// output through prompting rather than a native response format.
const JSONInstruction = "\n\nRespond only with valid JSON, no other text."

// DecodeJSON parses a model completion into a map, tolerating markdown code
// fences around the JSON document.
func DecodeJSON(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimPrefix(content, "json")
		if idx := strings.Index(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, err
	}
	return out, nil
}
