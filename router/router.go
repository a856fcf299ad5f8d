package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Dead letter reasons recorded by the router.
const (
	// ReasonNoHandler means no handler was registered for the receiver.
	ReasonNoHandler = "no handler registered"
	// ReasonAckTimeout means acknowledgment never arrived within the retry budget.
	ReasonAckTimeout = "ack timeout after retries"
	// ReasonExpired means the message TTL elapsed while waiting for acknowledgment.
	ReasonExpired = "expired"
)

// Handler processes a message addressed to one agent and optionally returns
// an immediate reply. The router may invoke a handler more than once per
// logical message, so handlers should be idempotent with respect to retries.
type Handler func(msg *core.Message) (*core.Message, error)

// Observer receives delivery events. The metrics package implements it; the
// default observer discards everything.
type Observer interface {
	MessageDelivered(msg *core.Message)
	MessageRetried(msg *core.Message)
	DeadLettered(reason string)
}

type noopObserver struct{}

func (noopObserver) MessageDelivered(*core.Message) {}
func (noopObserver) MessageRetried(*core.Message)   {}
func (noopObserver) DeadLettered(string)            {}

// deliveryLogger is the structured delivery helper of
// logging.AgentRelayLogger. Loggers that implement it get one outcome record
// per delivery on top of the plain log lines.
type deliveryLogger interface {
	LogDelivery(messageID, receiver string, retries int, success bool, reason string)
}

// Options configures a Router.
type Options struct {
	// MaxRetries bounds re-invocations after an ack timeout. A message is
	// delivered at most MaxRetries+1 times.
	MaxRetries int
	// RetryDelay is the fixed pause between delivery attempts.
	RetryDelay time.Duration
	// AckTimeout bounds each wait for acknowledgment.
	AckTimeout time.Duration
	// MaxDeadLetters caps the dead letter queue (oldest evicted first).
	MaxDeadLetters int
	// MaxHistory caps the message history (oldest evicted first).
	MaxHistory int
	// Logger receives delivery logs.
	Logger logging.Logger
	// Observer receives delivery events for metrics.
	Observer Observer
}

// Router routes messages between registered agents, tracking acknowledgment,
// retries and dead letters. All methods are safe for concurrent use; the ack
// wait happens outside the router lock so unrelated sends never block each
// other.
type Router struct {
	mu          sync.Mutex
	handlers    map[string]Handler
	pending     map[string]*pendingAck
	deadLetters []*core.DeadLetter
	history     []*core.Message

	maxRetries     int
	retryDelay     time.Duration
	ackTimeout     time.Duration
	maxDeadLetters int
	maxHistory     int
	logger         logging.Logger
	observer       Observer
}

type pendingAck struct {
	msg *core.Message
	ch  chan struct{}
}

// New creates a Router with the default policy: 3 retries, 1s retry delay,
// 5s ack timeout, 100 dead letters, 500 history entries.
func New(optFns ...func(o *Options)) *Router {
	opts := Options{
		MaxRetries:     3,
		RetryDelay:     time.Second,
		AckTimeout:     5 * time.Second,
		MaxDeadLetters: 100,
		MaxHistory:     500,
		Logger:         logging.NoOpLogger{},
		Observer:       noopObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		handlers:       make(map[string]Handler),
		pending:        make(map[string]*pendingAck),
		maxRetries:     opts.MaxRetries,
		retryDelay:     opts.RetryDelay,
		ackTimeout:     opts.AckTimeout,
		maxDeadLetters: opts.MaxDeadLetters,
		maxHistory:     opts.MaxHistory,
		logger:         opts.Logger,
		observer:       opts.Observer,
	}
}

// WithMaxRetries sets the retry bound.
func WithMaxRetries(n int) func(o *Options) {
	return func(o *Options) { o.MaxRetries = n }
}

// WithRetryDelay sets the pause between delivery attempts.
func WithRetryDelay(d time.Duration) func(o *Options) {
	return func(o *Options) { o.RetryDelay = d }
}

// WithAckTimeout sets the per-attempt acknowledgment timeout.
func WithAckTimeout(d time.Duration) func(o *Options) {
	return func(o *Options) { o.AckTimeout = d }
}

// WithMaxDeadLetters caps the dead letter queue.
func WithMaxDeadLetters(n int) func(o *Options) {
	return func(o *Options) { o.MaxDeadLetters = n }
}

// WithMaxHistory caps the message history.
func WithMaxHistory(n int) func(o *Options) {
	return func(o *Options) { o.MaxHistory = n }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logger }
}

// WithObserver sets the delivery event observer.
func WithObserver(obs Observer) func(o *Options) {
	return func(o *Options) { o.Observer = obs }
}

// Register installs the handler for an agent name. Registering twice replaces
// the prior handler.
func (r *Router) Register(agent string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[agent] = h
	r.logger.Debug("Registered handler", "agent", agent)
}

// Unregister removes the handler for an agent name.
func (r *Router) Unregister(agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, agent)
}

// Send delivers the message to its receiver's handler and returns the
// handler's immediate reply, if any. Delivery failures are recorded as dead
// letters and reported by a nil return, never by an error: no registered
// handler, a handler error, and ack-timeout exhaustion all dead-letter the
// message. For messages requiring acknowledgment Send blocks until
// Acknowledge is called, the retry budget is exhausted, or ctx is canceled.
func (r *Router) Send(ctx context.Context, msg *core.Message) *core.Message {
	r.mu.Lock()
	msg.Status = core.StatusSent
	r.appendHistoryLocked(msg)

	handler, ok := r.handlers[msg.Receiver]
	if !ok {
		msg.Status = core.StatusFailed
		r.addDeadLetterLocked(msg, ReasonNoHandler)
		r.mu.Unlock()
		return nil
	}

	var ackCh chan struct{}
	if msg.RequiresAck {
		ackCh = make(chan struct{})
		r.pending[msg.ID] = &pendingAck{msg: msg, ch: ackCh}
	}
	r.mu.Unlock()

	reply, err := invoke(handler, msg)
	if err != nil {
		r.deliveryFailed(msg, err)
		return nil
	}
	r.setStatus(msg, core.StatusDelivered)
	r.observer.MessageDelivered(msg)
	if dl, ok := r.logger.(deliveryLogger); ok {
		dl.LogDelivery(msg.ID, msg.Receiver, msg.Retries, true, "")
	}

	if !msg.RequiresAck {
		return reply
	}

	for {
		if r.waitAck(ctx, ackCh) {
			r.setStatus(msg, core.StatusAcknowledged)
			r.logger.Debug("Message acknowledged", "message_id", msg.ID)
			return reply
		}

		r.mu.Lock()
		if _, stillPending := r.pending[msg.ID]; !stillPending {
			// Swept by ClearExpired between the timeout and here.
			r.mu.Unlock()
			return nil
		}
		if msg.Retries >= r.maxRetries || ctx.Err() != nil {
			delete(r.pending, msg.ID)
			msg.Status = core.StatusFailed
			r.addDeadLetterLocked(msg, ReasonAckTimeout)
			r.mu.Unlock()
			return nil
		}
		msg.Retries++
		r.mu.Unlock()

		r.observer.MessageRetried(msg)
		select {
		case <-time.After(r.retryDelay):
		case <-ctx.Done():
		}

		reply, err = invoke(handler, msg)
		if err != nil {
			r.deliveryFailed(msg, err)
			return nil
		}
	}
}

// invoke calls the handler, converting a panic into an error so one
// misbehaving agent cannot take down the router.
func invoke(h Handler, msg *core.Message) (reply *core.Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(msg)
}

func (r *Router) waitAck(ctx context.Context, ackCh chan struct{}) bool {
	timer := time.NewTimer(r.ackTimeout)
	defer timer.Stop()

	select {
	case <-ackCh:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Router) setStatus(msg *core.Message, status core.DeliveryStatus) {
	r.mu.Lock()
	msg.Status = status
	r.mu.Unlock()
}

func (r *Router) deliveryFailed(msg *core.Message, err error) {
	r.mu.Lock()
	delete(r.pending, msg.ID)
	msg.Status = core.StatusFailed
	r.addDeadLetterLocked(msg, err.Error())
	r.mu.Unlock()
	r.logger.Error("Message delivery failed", "message_id", msg.ID, "error", err)
}

// Acknowledge marks the message as acknowledged, releasing its waiting
// sender. Acknowledging an unknown or already acknowledged id is a no-op.
func (r *Router) Acknowledge(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pending[messageID]; ok {
		delete(r.pending, messageID)
		close(p.ch)
	}
}

// ClearExpired sweeps the pending-ack set, moving every message whose TTL has
// elapsed to the dead letter queue with reason "expired". Returns the number
// of messages moved. Waiters for swept messages time out on their own.
func (r *Router) ClearExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, p := range r.pending {
		if p.msg.Expired() {
			delete(r.pending, id)
			p.msg.Status = core.StatusExpired
			r.addDeadLetterLocked(p.msg, ReasonExpired)
			n++
		}
	}
	return n
}

func (r *Router) appendHistoryLocked(msg *core.Message) {
	r.history = append(r.history, msg)
	if len(r.history) > r.maxHistory {
		r.history = r.history[len(r.history)-r.maxHistory:]
	}
}

func (r *Router) addDeadLetterLocked(msg *core.Message, reason string) {
	r.deadLetters = append(r.deadLetters, &core.DeadLetter{
		Message: msg,
		Reason:  reason,
		Time:    time.Now().UTC(),
		Retries: msg.Retries,
	})
	if len(r.deadLetters) > r.maxDeadLetters {
		r.deadLetters = r.deadLetters[len(r.deadLetters)-r.maxDeadLetters:]
	}
	r.observer.DeadLettered(reason)
	r.logger.Warn("Dead letter", "message_id", msg.ID, "reason", reason, "retries", msg.Retries)
	if dl, ok := r.logger.(deliveryLogger); ok {
		dl.LogDelivery(msg.ID, msg.Receiver, msg.Retries, false, reason)
	}
}

// DeadLetters returns a copy of the dead letter queue, oldest first.
func (r *Router) DeadLetters() []*core.DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*core.DeadLetter(nil), r.deadLetters...)
}

// PendingAcks returns the messages currently waiting for acknowledgment.
func (r *Router) PendingAcks() []*core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*core.Message, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p.msg)
	}
	return out
}

// History returns the most recent messages, oldest first, capped at limit
// (all retained messages if limit <= 0).
func (r *Router) History(limit int) []*core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.history
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]*core.Message(nil), history...)
}
