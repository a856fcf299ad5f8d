package router

import (
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Subscriber consumes broadcast messages for one topic. Subscribers run on
// the broadcaster's worker pool; a panic in one subscriber is contained and
// never reaches the publisher.
type Subscriber func(msg *core.Message)

// BroadcasterOptions configures a Broadcaster.
type BroadcasterOptions struct {
	// Workers is the size of the fan-out worker pool.
	Workers int
	// Buffer is the pending delivery queue size. Publish drops deliveries
	// when the queue is full rather than blocking the publisher.
	Buffer int
	// Logger receives drop and panic logs.
	Logger logging.Logger
}

// Broadcaster fans messages out to topic subscribers through a bounded
// worker pool.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string][]Subscriber
	jobs   chan broadcastJob
	done   chan struct{}
	wg     sync.WaitGroup
	logger logging.Logger
}

type broadcastJob struct {
	sub Subscriber
	msg *core.Message
}

// NewBroadcaster creates a Broadcaster with 4 workers and a 64-entry queue
// unless overridden, and starts the worker pool.
func NewBroadcaster(optFns ...func(o *BroadcasterOptions)) *Broadcaster {
	opts := BroadcasterOptions{
		Workers: 4,
		Buffer:  64,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	b := &Broadcaster{
		subs:   make(map[string][]Subscriber),
		jobs:   make(chan broadcastJob, opts.Buffer),
		done:   make(chan struct{}),
		logger: opts.Logger,
	}
	b.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go b.worker()
	}
	return b
}

// WithWorkers sets the fan-out worker pool size.
func WithWorkers(n int) func(o *BroadcasterOptions) {
	return func(o *BroadcasterOptions) { o.Workers = n }
}

// WithBuffer sets the pending delivery queue size.
func WithBuffer(n int) func(o *BroadcasterOptions) {
	return func(o *BroadcasterOptions) { o.Buffer = n }
}

// WithBroadcastLogger sets the logger.
func WithBroadcastLogger(logger logging.Logger) func(o *BroadcasterOptions) {
	return func(o *BroadcasterOptions) { o.Logger = logger }
}

func (b *Broadcaster) worker() {
	defer b.wg.Done()
	for {
		select {
		case job := <-b.jobs:
			b.deliver(job)
		case <-b.done:
			// Drain remaining deliveries before exiting.
			for {
				select {
				case job := <-b.jobs:
					b.deliver(job)
				default:
					return
				}
			}
		}
	}
}

func (b *Broadcaster) deliver(job broadcastJob) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("Subscriber panic", "topic_message_id", job.msg.ID, "panic", rec)
		}
	}()
	job.sub(job.msg)
}

// Subscribe registers a subscriber for a topic.
func (b *Broadcaster) Subscribe(topic string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[topic] = append(b.subs[topic], sub)
}

// Publish enqueues a delivery of msg to every subscriber of the topic and
// returns the number of deliveries enqueued. Each subscriber receives its own
// clone. Publish never blocks: deliveries that do not fit the queue are
// dropped and logged.
func (b *Broadcaster) Publish(topic string, msg *core.Message) int {
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	enqueued := 0
	for _, sub := range subs {
		select {
		case b.jobs <- broadcastJob{sub: sub, msg: msg.Clone()}:
			enqueued++
		default:
			b.logger.Warn("Broadcast queue full, dropping delivery", "topic", topic, "message_id", msg.ID)
		}
	}
	return enqueued
}

// Close stops the worker pool after draining queued deliveries. Publish must
// not be called after Close.
func (b *Broadcaster) Close() {
	close(b.done)
	b.wg.Wait()
}
