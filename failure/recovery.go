package failure

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Strategy is a named corrective action for one failure kind. Apply must be
// idempotent and report its outcome explicitly; an error counts as a failed
// attempt and the dispatcher moves on to the next strategy.
type Strategy struct {
	// Name identifies the strategy in logs and events.
	Name string
	// Description says what the strategy does.
	Description string
	// SuccessRate is a historical hint used only to order strategies,
	// highest first. It never arbitrates outcomes.
	SuccessRate float64
	// Apply performs the corrective action against the coordination state.
	Apply func(event *core.FailureEvent, state *CoordinationState) (bool, error)
}

// Observer receives recovery outcomes. The metrics package implements it.
type Observer interface {
	RecoveryCompleted(kind core.FailureKind, strategy string, success bool)
}

type noopObserver struct{}

func (noopObserver) RecoveryCompleted(core.FailureKind, string, bool) {}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Logger receives recovery logs.
	Logger logging.Logger
	// Observer receives recovery outcomes for metrics.
	Observer Observer
	// DisableDefaults skips registration of the built-in strategies.
	DisableDefaults bool
}

// Dispatcher maps failure kinds to ordered strategy lists and applies them
// until one succeeds.
type Dispatcher struct {
	mu         sync.Mutex
	strategies map[core.FailureKind][]*Strategy
	logger     logging.Logger
	observer   Observer
}

// NewDispatcher creates a Dispatcher preloaded with the default strategies:
// step repetition skips the offending agent, infinite loops force-terminate
// the workflow preserving partial results, role violations are logged and the
// workflow continues under tightened guardrails.
func NewDispatcher(optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{
		Logger:   logging.NoOpLogger{},
		Observer: noopObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	d := &Dispatcher{
		strategies: make(map[core.FailureKind][]*Strategy),
		logger:     opts.Logger,
		observer:   opts.Observer,
	}
	if !opts.DisableDefaults {
		d.registerDefaults()
	}
	return d
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger logging.Logger) func(o *DispatcherOptions) {
	return func(o *DispatcherOptions) { o.Logger = logger }
}

// WithObserver sets the recovery outcome observer.
func WithObserver(obs Observer) func(o *DispatcherOptions) {
	return func(o *DispatcherOptions) { o.Observer = obs }
}

// WithoutDefaults skips the built-in strategies.
func WithoutDefaults() func(o *DispatcherOptions) {
	return func(o *DispatcherOptions) { o.DisableDefaults = true }
}

func (d *Dispatcher) registerDefaults() {
	d.Register(core.FailureStepRepetition, &Strategy{
		Name:        "reset_and_skip",
		Description: "skip the repeated agent for this cycle",
		SuccessRate: 0.7,
		Apply: func(event *core.FailureEvent, state *CoordinationState) (bool, error) {
			state.SkipAgent(event.Agent)
			return true, nil
		},
	})
	d.Register(core.FailureInfiniteLoop, &Strategy{
		Name:        "force_terminate",
		Description: "terminate the workflow and preserve partial results",
		SuccessRate: 0.9,
		Apply: func(event *core.FailureEvent, state *CoordinationState) (bool, error) {
			state.Terminate(event.Description)
			return true, nil
		},
	})
	d.Register(core.FailureRoleViolation, &Strategy{
		Name:        "log_and_continue",
		Description: "record the violation and continue under tightened guardrails",
		SuccessRate: 0.8,
		Apply: func(event *core.FailureEvent, state *CoordinationState) (bool, error) {
			state.AddGuardrail(fmt.Sprintf("%s: %s", event.Agent, event.Description))
			return true, nil
		},
	})
}

// Register adds a strategy for a failure kind. Strategies are kept ordered by
// SuccessRate, highest first; ties keep registration order.
func (d *Dispatcher) Register(kind core.FailureKind, s *Strategy) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.strategies[kind] = append(d.strategies[kind], s)
	sort.SliceStable(d.strategies[kind], func(i, j int) bool {
		return d.strategies[kind][i].SuccessRate > d.strategies[kind][j].SuccessRate
	})
}

// Strategies returns the ordered strategies for a failure kind.
func (d *Dispatcher) Strategies(kind core.FailureKind) []*Strategy {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]*Strategy(nil), d.strategies[kind]...)
}

// Recover tries the strategies registered for the event's kind in order. A
// strategy returning an error counts as failed and the next one is tried.
// The first success stops the loop and marks the event recovered; exhausting
// every strategy leaves RecoverySuccessful false. Recover reports whether any
// strategy succeeded.
func (d *Dispatcher) Recover(event *core.FailureEvent, state *CoordinationState) bool {
	for _, strategy := range d.Strategies(event.Kind) {
		event.RecoveryAttempted = true
		d.logger.Info("Attempting recovery", "kind", string(event.Kind), "strategy", strategy.Name)

		ok, err := strategy.Apply(event, state)
		if err != nil {
			d.logger.Error("Recovery strategy failed", "strategy", strategy.Name, "error", err)
			d.observer.RecoveryCompleted(event.Kind, strategy.Name, false)
			continue
		}
		if ok {
			event.RecoverySuccessful = true
			if event.Context == nil {
				event.Context = map[string]any{}
			}
			event.Context["recovery_strategy"] = strategy.Name
			d.logger.Info("Recovery successful", "strategy", strategy.Name)
			d.observer.RecoveryCompleted(event.Kind, strategy.Name, true)
			return true
		}
		d.observer.RecoveryCompleted(event.Kind, strategy.Name, false)
	}
	return false
}
