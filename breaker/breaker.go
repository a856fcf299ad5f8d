package breaker

import (
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/logging"
)

// State is the health state of a single agent circuit.
type State string

const (
	// StateClosed allows calls; failures are being counted.
	StateClosed State = "closed"
	// StateOpen blocks calls until the reset timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen allows exactly one probe call after the cool-down.
	StateHalfOpen State = "half_open"
)

// Status is a point-in-time snapshot of one agent circuit.
type Status struct {
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Open reports whether the circuit currently blocks calls.
func (s Status) Open() bool { return s.State == StateOpen }

// Options configures a Breaker.
type Options struct {
	// FailureThreshold is the number of consecutive failures that opens a circuit.
	FailureThreshold int
	// ResetTimeout is the cool-down after the last failure before a probe call is allowed.
	ResetTimeout time.Duration
	// Logger receives state transition logs.
	Logger logging.Logger
	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// Breaker fences repeatedly failing agents. Each agent name gets its own
// circuit, created lazily on first observation. All methods are safe for
// concurrent use.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	reset     time.Duration
	logger    logging.Logger
	now       func() time.Time
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// New creates a Breaker with a failure threshold of 3 and a 60 second reset
// timeout unless overridden.
func New(optFns ...func(o *Options)) *Breaker {
	opts := Options{
		FailureThreshold: 3,
		ResetTimeout:     60 * time.Second,
		Logger:           logging.NoOpLogger{},
		Clock:            time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: opts.FailureThreshold,
		reset:     opts.ResetTimeout,
		logger:    opts.Logger,
		now:       opts.Clock,
	}
}

// WithFailureThreshold sets the consecutive-failure count that opens a circuit.
func WithFailureThreshold(n int) func(o *Options) {
	return func(o *Options) { o.FailureThreshold = n }
}

// WithResetTimeout sets the cool-down before an open circuit allows a probe.
func WithResetTimeout(d time.Duration) func(o *Options) {
	return func(o *Options) { o.ResetTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logger }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) func(o *Options) {
	return func(o *Options) { o.Clock = clock }
}

func (b *Breaker) circuitFor(agent string) *circuit {
	c, ok := b.circuits[agent]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[agent] = c
	}
	return c
}

// IsOpen reports whether calls to the agent are currently blocked. When the
// reset timeout has elapsed since the last failure, the circuit moves to
// half-open as a side effect and one probe call is allowed.
func (b *Breaker) IsOpen(agent string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[agent]
	if !ok {
		return false
	}
	if c.state != StateOpen {
		return false
	}
	if b.now().Sub(c.lastFailure) > b.reset {
		c.state = StateHalfOpen
		b.logger.Info("Circuit half-open, allowing probe call", "agent", agent)
		return false
	}
	return true
}

// RecordFailure counts a failed call. Reaching the failure threshold opens the
// circuit; a failure during the half-open probe reopens it and restarts the
// cool-down clock.
func (b *Breaker) RecordFailure(agent string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(agent)
	c.failures++
	c.lastFailure = b.now()

	if c.state == StateHalfOpen || c.failures >= b.threshold {
		if c.state != StateOpen {
			b.logger.Warn("Circuit open, too many failures", "agent", agent, "failures", c.failures)
		}
		c.state = StateOpen
	}
}

// RecordSuccess counts a successful call, closing the circuit and resetting
// the failure counter.
func (b *Breaker) RecordSuccess(agent string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(agent)
	if c.state != StateClosed {
		b.logger.Info("Circuit closed", "agent", agent)
	}
	c.state = StateClosed
	c.failures = 0
}

// Trip forces the circuit open regardless of the failure count. Recovery
// strategies use it to fence an agent explicitly.
func (b *Breaker) Trip(agent string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(agent)
	c.state = StateOpen
	c.lastFailure = b.now()
	if c.failures < b.threshold {
		c.failures = b.threshold
	}
	b.logger.Warn("Circuit tripped", "agent", agent)
}

// State returns the agent's current circuit state without side effects.
// Unknown agents are closed.
func (b *Breaker) State(agent string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[agent]; ok {
		return c.state
	}
	return StateClosed
}

// Status returns a snapshot of every observed circuit.
func (b *Breaker) Status() map[string]Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]Status, len(b.circuits))
	for agent, c := range b.circuits {
		out[agent] = Status{State: c.state, Failures: c.failures, LastFailure: c.lastFailure}
	}
	return out
}
