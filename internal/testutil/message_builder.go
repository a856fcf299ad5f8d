package testutil

import (
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder().From("planner").To("writer").Ask("draft?").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	kind     core.Kind
	sender   string
	receiver string
	payload  map[string]any
	priority *core.Priority
	ttl      *time.Duration
	noAck    bool
	id       string
}

// NewMessageBuilder creates a builder defaulting to a notification between
// "sender" and "receiver".
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		kind:     core.KindNotification,
		sender:   "sender",
		receiver: "receiver",
		payload:  map[string]any{},
	}
}

// From sets the sender (chainable).
func (b *MessageBuilder) From(agent string) *MessageBuilder { b.sender = agent; return b }

// To sets the receiver (chainable).
func (b *MessageBuilder) To(agent string) *MessageBuilder { b.receiver = agent; return b }

// Kind sets the message kind (chainable).
func (b *MessageBuilder) Kind(k core.Kind) *MessageBuilder { b.kind = k; return b }

// ID overrides the auto-generated message ID (chainable). Use mainly in tests
// where determinism matters.
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// Ask turns the message into a request carrying the given question (chainable).
func (b *MessageBuilder) Ask(question string) *MessageBuilder {
	b.kind = core.KindRequest
	b.payload["question"] = question
	return b
}

// Payload sets a payload field (chainable).
func (b *MessageBuilder) Payload(key string, value any) *MessageBuilder {
	b.payload[key] = value
	return b
}

// Priority sets the priority (chainable).
func (b *MessageBuilder) Priority(p core.Priority) *MessageBuilder { b.priority = &p; return b }

// TTL sets the time-to-live (chainable).
func (b *MessageBuilder) TTL(d time.Duration) *MessageBuilder { b.ttl = &d; return b }

// NoAck disables the acknowledgment requirement (chainable).
func (b *MessageBuilder) NoAck() *MessageBuilder { b.noAck = true; return b }

// Build constructs the core.Message value.
func (b *MessageBuilder) Build() *core.Message {
	msg := core.NewMessage(b.kind, b.sender, b.receiver, b.payload)
	if b.id != "" {
		msg.ID = b.id
	}
	if b.priority != nil {
		msg.Priority = *b.priority
	}
	if b.ttl != nil {
		msg.TTL = *b.ttl
	}
	if b.noAck {
		msg.RequiresAck = false
	}
	return msg
}
