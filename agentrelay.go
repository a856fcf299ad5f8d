// Package agentrelay provides a high-level façade over the coordination
// substrate (message routing, circuit breaking, versioned shared state,
// failure detection & recovery, tracing). Most applications interact with
// this package by:
//  1. Creating a Coordinator via New() (optionally overriding the default components)
//  2. Registering one or more agent handlers
//  3. Dispatching messages and reporting workflow steps
//
// The façade wires the component packages together while keeping setup and
// usage ergonomics concise. Every collaborator is constructed explicitly and
// owned by the Coordinator; there is no process-global state, so independent
// workflows can run side by side. All defaults are safe for local development
// and testing; production deployments typically supply a structured logger
// and a metrics collector.
package agentrelay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/breaker"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/failure"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/metrics"
	"github.com/hupe1980/agentrelay/router"
	"github.com/hupe1980/agentrelay/state"
	"github.com/hupe1980/agentrelay/trace"
)

// ErrCircuitOpen is returned by Dispatch when the receiver's circuit is open
// and the message was not sent.
var ErrCircuitOpen = errors.New("circuit open for receiver")

// Options configures the Coordinator instance.
type Options struct {
	// Router delivers messages between agents. Defaults to a router with the
	// standard retry policy.
	Router *router.Router
	// Breaker fences repeatedly failing agents. Defaults to 3 failures / 60s reset.
	Breaker *breaker.Breaker
	// InitialContext seeds the shared versioned context.
	InitialContext map[string]any
	// Detector flags taxonomy failures. Defaults to the standard thresholds.
	Detector *failure.Detector
	// Dispatcher runs recovery strategies. Defaults to the built-in strategy set.
	Dispatcher *failure.Dispatcher
	// Tracer records execution traces. Defaults to an idle tracer; tracing
	// only happens between StartTrace and EndTrace.
	Tracer *trace.Tracer
	// Logger (defaults to NoOp logger if nil). Pass a
	// logging.AgentRelayLogger to also get structured delivery and recovery
	// outcome records.
	Logger logging.Logger
	// Metrics, when set, observes deliveries, recoveries and circuit state.
	Metrics *metrics.Collector
}

// Coordinator is the high-level façade aggregating the substrate components.
// It owns the current head of the shared context; all context swaps (applies
// and rollbacks) are serialized through its mutex.
type Coordinator struct {
	opts         Options
	router       *router.Router
	breaker      *breaker.Breaker
	detector     *failure.Detector
	dispatcher   *failure.Dispatcher
	tracer       *trace.Tracer
	logger       logging.Logger
	metrics      *metrics.Collector
	coordination *failure.CoordinationState

	mu        sync.Mutex
	context   *state.VersionedContext
	stepCount int
}

// New creates a Coordinator with optional overrides. Any unset component is
// initialized with an in-memory default.
func New(optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Router == nil {
		routerOpts := []func(o *router.Options){router.WithLogger(opts.Logger)}
		if opts.Metrics != nil {
			routerOpts = append(routerOpts, router.WithObserver(opts.Metrics))
		}
		opts.Router = router.New(routerOpts...)
	}
	if opts.Breaker == nil {
		opts.Breaker = breaker.New(breaker.WithLogger(opts.Logger))
	}
	if opts.Detector == nil {
		opts.Detector = failure.NewDetector(failure.WithDetectorLogger(opts.Logger))
	}
	if opts.Dispatcher == nil {
		dispatcherOpts := []func(o *failure.DispatcherOptions){failure.WithDispatcherLogger(opts.Logger)}
		if opts.Metrics != nil {
			dispatcherOpts = append(dispatcherOpts, failure.WithObserver(opts.Metrics))
		}
		opts.Dispatcher = failure.NewDispatcher(dispatcherOpts...)
	}
	if opts.Tracer == nil {
		opts.Tracer = trace.NewTracer()
	}

	c := &Coordinator{
		opts:         opts,
		router:       opts.Router,
		breaker:      opts.Breaker,
		detector:     opts.Detector,
		dispatcher:   opts.Dispatcher,
		tracer:       opts.Tracer,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		coordination: failure.NewCoordinationState(),
		context:      state.New(opts.InitialContext),
	}
	c.coordination.SetRollback(c.rollbackToLatestCheckpoint)
	return c
}

// rollbackToLatestCheckpoint is the hook recovery strategies use to restore
// shared state. It targets the checkpoint with the highest version id.
func (c *Coordinator) rollbackToLatestCheckpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cps := c.context.Checkpoints()
	if len(cps) == 0 {
		return fmt.Errorf("no checkpoint to roll back to")
	}
	latest := cps[len(cps)-1]
	restored, err := c.context.RollbackToCheckpoint(latest.Name)
	if err != nil {
		return err
	}
	c.context = restored
	c.logger.Info("Context rolled back by recovery", "checkpoint", latest.Name, "version", restored.Version())
	return nil
}

// Register adds an agent handler to the underlying router.
func (c *Coordinator) Register(agent string, h router.Handler) { c.router.Register(agent, h) }

// Unregister removes an agent handler.
func (c *Coordinator) Unregister(agent string) { c.router.Unregister(agent) }

// Dispatch sends a message through the router, gated by the receiver's
// circuit. An open circuit short-circuits the send with ErrCircuitOpen.
// Delivery outcomes feed back into the breaker: a terminal failure counts
// against the receiver, a successful delivery closes its circuit.
func (c *Coordinator) Dispatch(ctx context.Context, msg *core.Message) (*core.Message, error) {
	if c.coordination.Skipped(msg.Receiver) {
		return nil, fmt.Errorf("receiver %q is skipped for this cycle", msg.Receiver)
	}
	if c.breaker.IsOpen(msg.Receiver) {
		c.observeCircuit(msg.Receiver)
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, msg.Receiver)
	}

	start := time.Now()
	reply := c.router.Send(ctx, msg)

	switch msg.Status {
	case core.StatusFailed, core.StatusExpired:
		c.breaker.RecordFailure(msg.Receiver)
	default:
		c.breaker.RecordSuccess(msg.Receiver)
	}
	c.observeCircuit(msg.Receiver)

	var output map[string]any
	if reply != nil {
		output = reply.Payload
	}
	c.tracer.LogAgentCall(msg.Receiver, msg.Payload, output, time.Since(start), string(msg.Status))

	if msg.Status == core.StatusFailed || msg.Status == core.StatusExpired {
		return reply, fmt.Errorf("delivery to %q ended with status %s", msg.Receiver, msg.Status)
	}
	return reply, nil
}

func (c *Coordinator) observeCircuit(agent string) {
	if c.metrics == nil {
		return
	}
	c.metrics.SetCircuitOpen(agent, c.breaker.State(agent) == breaker.StateOpen)
}

// ReportStep feeds one workflow step into the failure detector and, when a
// failure is flagged, runs recovery. The step label has the form
// "<action> <agent>". The returned event is nil when the step is clean.
func (c *Coordinator) ReportStep(agent, action string) *core.FailureEvent {
	c.mu.Lock()
	c.stepCount++
	count := c.stepCount
	c.mu.Unlock()

	step := action + " " + agent
	if ev := c.detector.CheckStepRepetition(step); ev != nil {
		c.handleFailure(ev)
		return ev
	}
	if ev := c.detector.CheckInfiniteLoop(count); ev != nil {
		c.handleFailure(ev)
		return ev
	}
	return nil
}

// ReportRoleViolation checks an attempted action against the agent's allowed
// set and runs recovery on a violation.
func (c *Coordinator) ReportRoleViolation(agent, action string, allowed []string) *core.FailureEvent {
	ev := c.detector.CheckRoleViolation(agent, action, allowed)
	if ev != nil {
		c.handleFailure(ev)
	}
	return ev
}

// ReportReasoning checks an agent's stated reasoning against the action it is
// taking and records a low-severity event on a mismatch.
func (c *Coordinator) ReportReasoning(agent, reasoning, action string) *core.FailureEvent {
	ev := c.detector.CheckReasoningMismatch(agent, reasoning, action)
	if ev != nil {
		c.handleFailure(ev)
	}
	return ev
}

// recoveryLogger is the structured recovery helper of
// logging.AgentRelayLogger.
type recoveryLogger interface {
	LogRecovery(failureKind, strategy string, success bool, err error)
}

// handleFailure records the event, attempts recovery and fences the agent
// when recovery does not succeed.
func (c *Coordinator) handleFailure(ev *core.FailureEvent) {
	c.detector.Record(ev)
	c.tracer.LogError(ev.Agent, ev.Description, string(ev.Kind))

	recovered := c.dispatcher.Recover(ev, c.coordination)
	if rl, ok := c.logger.(recoveryLogger); ok {
		rl.LogRecovery(string(ev.Kind), recoveredStrategy(ev), recovered, nil)
	}
	if recovered {
		if ev.Kind == core.FailureStepRepetition {
			c.detector.ResetSteps()
		}
		if strategy := recoveredStrategy(ev); strategy != "" {
			c.tracer.LogRecovery(ev, strategy, true)
		}
		return
	}

	if ev.Agent != "" && ev.Agent != "system" {
		c.breaker.Trip(ev.Agent)
		c.observeCircuit(ev.Agent)
		c.logger.Warn("Recovery failed, circuit tripped", "agent", ev.Agent, "kind", string(ev.Kind))
	}
}

func recoveredStrategy(ev *core.FailureEvent) string {
	if s, ok := ev.Context["recovery_strategy"].(string); ok {
		return s
	}
	return ""
}

// ApplyContext applies a change set to the shared context and swaps the head,
// returning the new version id. Applies from concurrent goroutines serialize
// here; each one lands as its own version.
func (c *Coordinator) ApplyContext(changes map[string]any, agent string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.context = c.context.Apply(changes, agent)
	return c.context.Version()
}

// Context returns the current head of the shared context. The head is
// immutable; a later Apply produces a new one rather than mutating it.
func (c *Coordinator) Context() *state.VersionedContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.context
}

// Checkpoint marks the current context version under a name.
func (c *Coordinator) Checkpoint(name, description string) *state.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.context.CreateCheckpoint(name, description)
}

// RollbackToCheckpoint swaps the head back to a named checkpoint.
func (c *Coordinator) RollbackToCheckpoint(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	restored, err := c.context.RollbackToCheckpoint(name)
	if err != nil {
		return err
	}
	c.context = restored
	c.logger.Info("Context rolled back", "checkpoint", name, "version", restored.Version())
	return nil
}

// RollbackToVersion swaps the head back to an earlier version.
func (c *Coordinator) RollbackToVersion(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	restored, err := c.context.RollbackToVersion(id)
	if err != nil {
		return err
	}
	c.context = restored
	c.logger.Info("Context rolled back", "version", id)
	return nil
}

// Messenger returns a high-level messaging helper bound to the given agent.
func (c *Coordinator) Messenger(agent string) *router.Messenger {
	return router.NewMessenger(agent, c.router)
}

// StartTrace begins a trace for a workflow run and returns the trace id.
func (c *Coordinator) StartTrace(workflow string) string { return c.tracer.Start(workflow) }

// EndTrace finishes the active trace.
func (c *Coordinator) EndTrace(status string) *trace.Trace { return c.tracer.End(status) }

// Router exposes the underlying router.
func (c *Coordinator) Router() *router.Router { return c.router }

// Breaker exposes the underlying circuit breaker.
func (c *Coordinator) Breaker() *breaker.Breaker { return c.breaker }

// Detector exposes the underlying failure detector.
func (c *Coordinator) Detector() *failure.Detector { return c.detector }

// Tracer exposes the underlying tracer.
func (c *Coordinator) Tracer() *trace.Tracer { return c.tracer }

// Coordination exposes the recovery coordination state (skips, guardrails,
// termination flag).
func (c *Coordinator) Coordination() *failure.CoordinationState { return c.coordination }

// ResetCycle clears per-cycle recovery state (skips and the step window) at
// the start of a new workflow cycle.
func (c *Coordinator) ResetCycle() {
	c.mu.Lock()
	c.stepCount = 0
	c.mu.Unlock()

	c.detector.ResetSteps()
	c.coordination.ClearSkips()
}
