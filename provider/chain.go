package provider

import (
	"context"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Observer receives one event per response served by Generate, whether from
// a backend or the cache. The metrics package implements it; the default
// observer discards everything.
type Observer interface {
	ObserveLLMCall(provider string, tokens int, cached bool, latency time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveLLMCall(string, int, bool, time.Duration) {}

// llmCallLogger is the structured model-call helper of
// logging.AgentRelayLogger.
type llmCallLogger interface {
	LogLLMCall(model string, tokens int, dur time.Duration, cached bool, err error)
}

// ChainOptions configures a Chain.
type ChainOptions struct {
	// Cache holds responses across calls; nil disables caching.
	Cache *Cache
	// Limiter caps the number of backend calls per run; nil means unlimited.
	// Cache hits do not spend budget.
	Limiter *core.CallLimiter
	// Logger receives fallback logs.
	Logger logging.Logger
	// Observer receives model-call events for metrics.
	Observer Observer
}

// Chain composes providers with fallback and a shared response cache. The
// first provider is primary; on empty content or an error the next one is
// tried. A Chain never returns an error: when every backend fails the caller
// gets an empty response, so provider trouble stays out of the coordination
// core.
type Chain struct {
	providers []Provider
	cache     *Cache
	limiter   *core.CallLimiter
	logger    logging.Logger
	observer  Observer
}

// NewChain creates a Chain over the given providers, in fallback order, with
// a default Cache.
func NewChain(providers []Provider, optFns ...func(o *ChainOptions)) *Chain {
	opts := ChainOptions{
		Cache:    NewCache(),
		Logger:   logging.NoOpLogger{},
		Observer: noopObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Chain{providers: providers, cache: opts.Cache, limiter: opts.Limiter, logger: opts.Logger, observer: opts.Observer}
}

// WithCache sets the response cache (nil disables caching).
func WithCache(cache *Cache) func(o *ChainOptions) {
	return func(o *ChainOptions) { o.Cache = cache }
}

// WithLimiter caps backend calls per run.
func WithLimiter(limiter *core.CallLimiter) func(o *ChainOptions) {
	return func(o *ChainOptions) { o.Limiter = limiter }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) func(o *ChainOptions) {
	return func(o *ChainOptions) { o.Logger = logger }
}

// WithObserver sets the model-call event observer.
func WithObserver(obs Observer) func(o *ChainOptions) {
	return func(o *ChainOptions) { o.Observer = obs }
}

// Providers returns the backend names in fallback order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// CacheStats returns the shared cache statistics.
func (c *Chain) CacheStats() Stats {
	if c.cache == nil {
		return Stats{}
	}
	return c.cache.Stats()
}

// spendBudget takes one call from the limiter, logging when the budget runs
// out.
func (c *Chain) spendBudget() error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Increment(); err != nil {
		c.logger.Warn("Model call budget exhausted", "calls", c.limiter.Count())
		return err
	}
	return nil
}

// Generate tries each provider in order and returns the first response with
// content, caching it. When every provider fails the result is an empty
// response attributed to provider "none"; Generate itself never fails.
func (c *Chain) Generate(ctx context.Context, prompt string, optFns ...func(o *GenerateOptions)) *Response {
	opts := DefaultGenerateOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if c.cache != nil && len(c.providers) > 0 {
		if cached := c.cache.Get(prompt, c.providers[0].Model(), opts.Temperature, opts.System); cached != nil {
			c.observeCall(cached)
			return cached
		}
	}

	if err := c.spendBudget(); err != nil {
		return &Response{Model: "unknown", Provider: "none"}
	}

	for _, p := range c.providers {
		resp, err := p.Generate(ctx, prompt, optFns...)
		if err != nil {
			c.logger.Warn("Provider failed, trying fallback", "provider", p.Name(), "error", err)
			continue
		}
		if resp == nil || resp.Content == "" {
			c.logger.Warn("Provider returned empty content, trying fallback", "provider", p.Name())
			continue
		}
		if c.cache != nil {
			c.cache.Put(prompt, p.Model(), opts.Temperature, opts.System, resp)
		}
		c.observeCall(resp)
		return resp
	}

	return &Response{Model: "unknown", Provider: "none"}
}

// observeCall reports one served response to the observer and, when the
// logger supports it, as a structured model-call record.
func (c *Chain) observeCall(resp *Response) {
	c.observer.ObserveLLMCall(resp.Provider, resp.TokensUsed, resp.Cached, resp.Latency)
	if ll, ok := c.logger.(llmCallLogger); ok {
		ll.LogLLMCall(resp.Model, resp.TokensUsed, resp.Latency, resp.Cached, nil)
	}
}

// GenerateJSON tries each provider in order and returns the first non-empty
// structured result. When every provider fails the result is an empty map.
func (c *Chain) GenerateJSON(ctx context.Context, prompt string, optFns ...func(o *GenerateOptions)) map[string]any {
	if err := c.spendBudget(); err != nil {
		return map[string]any{}
	}

	for _, p := range c.providers {
		result, err := p.GenerateJSON(ctx, prompt, optFns...)
		if err != nil {
			c.logger.Warn("Provider JSON generation failed, trying fallback", "provider", p.Name(), "error", err)
			continue
		}
		if len(result) > 0 {
			return result
		}
	}
	return map[string]any{}
}
