package core

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the message types agents exchange through the router.
type Kind string

const (
	// KindRequest expects a Response carrying the request id as correlation.
	KindRequest Kind = "request"
	// KindResponse answers a previously sent Request.
	KindResponse Kind = "response"
	// KindNotification is fire-and-forget; it never enters the ack path.
	KindNotification Kind = "notification"
	// KindAck positively acknowledges receipt of a message.
	KindAck Kind = "ack"
	// KindNack negatively acknowledges receipt of a message.
	KindNack Kind = "nack"
	// KindBid opens a negotiation.
	KindBid Kind = "bid"
	// KindAccept accepts a bid.
	KindAccept Kind = "accept"
	// KindReject rejects a bid.
	KindReject Kind = "reject"
)

// Priority orders messages by urgency. Values are spaced so intermediate
// levels can be introduced without renumbering.
type Priority int

const (
	// PriorityLow is for background or housekeeping traffic.
	PriorityLow Priority = 1
	// PriorityNormal is the default for regular coordination traffic.
	PriorityNormal Priority = 5
	// PriorityHigh marks traffic that should preempt normal work.
	PriorityHigh Priority = 8
	// PriorityCritical marks traffic that must not be delayed.
	PriorityCritical Priority = 10
)

// DeliveryStatus tracks a message through its delivery lifecycle. Acknowledged,
// Failed and Expired are terminal.
type DeliveryStatus string

const (
	// StatusPending means the message has been created but not handed to the router.
	StatusPending DeliveryStatus = "pending"
	// StatusSent means the router has accepted the message.
	StatusSent DeliveryStatus = "sent"
	// StatusDelivered means the receiver's handler was invoked.
	StatusDelivered DeliveryStatus = "delivered"
	// StatusAcknowledged means the receiver confirmed receipt.
	StatusAcknowledged DeliveryStatus = "acknowledged"
	// StatusFailed means delivery failed permanently; a DeadLetter records why.
	StatusFailed DeliveryStatus = "failed"
	// StatusExpired means the message TTL elapsed before acknowledgment.
	StatusExpired DeliveryStatus = "expired"
)

// Message is the unit of agent-to-agent communication. A sender creates it,
// the router is the only component that mutates the delivery tracking fields
// (Status, Retries), and it becomes immutable once a terminal status is set.
type Message struct {
	ID            string         `json:"id"`
	Kind          Kind           `json:"kind"`
	Sender        string         `json:"sender"`
	Receiver      string         `json:"receiver"`
	Payload       map[string]any `json:"payload"`
	Priority      Priority       `json:"priority"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	ReplyTo       string         `json:"reply_to,omitempty"`
	TTL           time.Duration  `json:"ttl"`
	RequiresAck   bool           `json:"requires_ack"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        DeliveryStatus `json:"status"`
	Retries       int            `json:"retries"`
}

// NewMessage creates a message with a fresh id, UTC timestamp and the
// defaults used throughout the substrate (normal priority, 30s TTL,
// acknowledgment required).
func NewMessage(kind Kind, sender, receiver string, payload map[string]any) *Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Message{
		ID:          NewID(),
		Kind:        kind,
		Sender:      sender,
		Receiver:    receiver,
		Payload:     payload,
		Priority:    PriorityNormal,
		TTL:         30 * time.Second,
		RequiresAck: true,
		Timestamp:   time.Now().UTC(),
		Status:      StatusPending,
	}
}

// Response derives the reply to this message: sender/receiver are swapped,
// correlation and reply-to point back at this message, and no further
// acknowledgment is required.
func (m *Message) Response(payload map[string]any) *Message {
	resp := NewMessage(KindResponse, m.Receiver, m.Sender, payload)
	resp.CorrelationID = m.ID
	resp.ReplyTo = m.ID
	resp.RequiresAck = false
	return resp
}

// Ack derives a positive acknowledgment for this message. Acks use a short
// fixed TTL and never require acknowledgment themselves.
func (m *Message) Ack() *Message {
	ack := NewMessage(KindAck, m.Receiver, m.Sender, map[string]any{"acknowledged": m.ID})
	ack.CorrelationID = m.ID
	ack.RequiresAck = false
	ack.TTL = 10 * time.Second
	return ack
}

// Nack derives a negative acknowledgment carrying the rejection reason.
func (m *Message) Nack(reason string) *Message {
	nack := NewMessage(KindNack, m.Receiver, m.Sender, map[string]any{"message_id": m.ID, "reason": reason})
	nack.CorrelationID = m.ID
	nack.RequiresAck = false
	nack.TTL = 10 * time.Second
	return nack
}

// Expired reports whether the message TTL has elapsed since creation.
func (m *Message) Expired() bool {
	return time.Now().After(m.Timestamp.Add(m.TTL))
}

// Clone returns a deep copy of the message so callers can retain a snapshot
// uncoupled from the router's tracking mutations.
func (m *Message) Clone() *Message {
	clone := *m
	clone.Payload = make(map[string]any, len(m.Payload))
	for k, v := range m.Payload {
		clone.Payload[k] = v
	}
	return &clone
}

// DeadLetter records a message the router could not deliver or get
// acknowledged within policy limits. Dead letters are immutable once created.
type DeadLetter struct {
	Message *Message  `json:"message"`
	Reason  string    `json:"reason"`
	Time    time.Time `json:"time"`
	Retries int       `json:"retries"`
}

// NewID generates a new unique identifier for messages, mutations and traces.
func NewID() string { return uuid.NewString() }
