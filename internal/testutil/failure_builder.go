package testutil

import (
	"github.com/hupe1980/agentrelay/core"
)

// FailureBuilder provides a fluent helper for constructing failure events in
// tests. Defaults to a medium step repetition by agent "agent".
type FailureBuilder struct {
	kind        core.FailureKind
	agent       string
	description string
	severity    core.Severity
	context     map[string]any
}

// NewFailureBuilder creates a builder with defaults applied.
func NewFailureBuilder() *FailureBuilder {
	return &FailureBuilder{
		kind:        core.FailureStepRepetition,
		agent:       "agent",
		description: "repeated step",
		severity:    core.SeverityMedium,
		context:     map[string]any{},
	}
}

// Kind sets the failure kind (chainable).
func (b *FailureBuilder) Kind(k core.FailureKind) *FailureBuilder { b.kind = k; return b }

// Agent sets the offending agent (chainable).
func (b *FailureBuilder) Agent(a string) *FailureBuilder { b.agent = a; return b }

// Description sets the human-readable description (chainable).
func (b *FailureBuilder) Description(d string) *FailureBuilder { b.description = d; return b }

// Severity sets the severity grade (chainable).
func (b *FailureBuilder) Severity(s core.Severity) *FailureBuilder { b.severity = s; return b }

// Context sets a context field (chainable).
func (b *FailureBuilder) Context(key string, value any) *FailureBuilder {
	b.context[key] = value
	return b
}

// Build constructs the core.FailureEvent value.
func (b *FailureBuilder) Build() *core.FailureEvent {
	ev := core.NewFailureEvent(b.kind, b.agent, b.description, b.severity)
	for k, v := range b.context {
		ev.Context[k] = v
	}
	return ev
}
