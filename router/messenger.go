package router

import (
	"context"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// Bid outcomes returned by Messenger.Bid.
const (
	// BidAccepted means the receiver accepted the bid.
	BidAccepted = "accepted"
	// BidRejected means the receiver rejected the bid.
	BidRejected = "rejected"
)

// Messenger is a high-level messaging interface for one agent, layered on a
// Router.
type Messenger struct {
	agent  string
	router *Router
}

// NewMessenger creates a Messenger sending on behalf of the named agent.
func NewMessenger(agent string, r *Router) *Messenger {
	return &Messenger{agent: agent, router: r}
}

// Ask sends a Request carrying the question and waits for the matching
// Response, returning its payload. The second return is false when no
// response arrived within timeout or delivery failed.
func (m *Messenger) Ask(ctx context.Context, receiver, question string, extra map[string]any, timeout time.Duration) (map[string]any, bool) {
	if extra == nil {
		extra = map[string]any{}
	}
	msg := core.NewMessage(core.KindRequest, m.agent, receiver, map[string]any{
		"question": question,
		"context":  extra,
	})
	// The response itself confirms receipt; a separate ack would double-count.
	msg.RequiresAck = false
	if timeout > 0 {
		msg.TTL = timeout
	}

	reply := m.router.Send(ctx, msg)
	if reply != nil && reply.Kind == core.KindResponse {
		return reply.Payload, true
	}
	return nil, false
}

// Tell sends a fire-and-forget Notification. It never waits for
// acknowledgment; delivery problems surface only as dead letters.
func (m *Messenger) Tell(ctx context.Context, receiver, notification string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	msg := core.NewMessage(core.KindNotification, m.agent, receiver, map[string]any{
		"notification": notification,
		"data":         data,
	})
	msg.RequiresAck = false

	m.router.Send(ctx, msg)
}

// Bid opens a negotiation by sending a Bid with the task and offer. It
// returns BidAccepted or BidRejected depending on the reply kind; the second
// return is false when no decision arrived within timeout.
func (m *Messenger) Bid(ctx context.Context, receiver, task string, offer map[string]any, timeout time.Duration) (string, bool) {
	if offer == nil {
		offer = map[string]any{}
	}
	msg := core.NewMessage(core.KindBid, m.agent, receiver, map[string]any{
		"task":  task,
		"offer": offer,
	})
	// An accept or reject reply doubles as the acknowledgment.
	msg.RequiresAck = false
	if timeout > 0 {
		msg.TTL = timeout
	}

	reply := m.router.Send(ctx, msg)
	if reply == nil {
		return "", false
	}
	switch reply.Kind {
	case core.KindAccept:
		return BidAccepted, true
	case core.KindReject:
		return BidRejected, true
	default:
		return "", false
	}
}
