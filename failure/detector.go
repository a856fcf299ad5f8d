package failure

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// DetectorOptions configures a Detector.
type DetectorOptions struct {
	// MaxRepetitions is the run length of identical steps that flags
	// step repetition.
	MaxRepetitions int
	// MaxSteps is the step-count ceiling beyond which an infinite loop is
	// assumed.
	MaxSteps int
	// MaxStepHistory caps the retained step labels (oldest evicted first).
	MaxStepHistory int
	// ReasoningCheck toggles the reasoning-mismatch heuristic. The check is
	// a weak substring signal and false-positive prone, so it can be turned
	// off without losing the rest of the taxonomy.
	ReasoningCheck bool
	// Logger receives detection logs.
	Logger logging.Logger
}

// Detector classifies agent behavior into the MAST failure taxonomy. The
// Check methods return a FailureEvent when a rule fires (nil otherwise) and
// leave recording to the caller via Record, so callers can decide which
// detections enter the log. All methods are safe for concurrent use.
type Detector struct {
	mu             sync.Mutex
	events         []*core.FailureEvent
	steps          []string
	maxRepetitions int
	maxSteps       int
	maxStepHistory int
	reasoningCheck bool
	logger         logging.Logger
}

// NewDetector creates a Detector flagging 3 identical consecutive steps and
// workflows longer than 20 steps, with the reasoning heuristic enabled.
func NewDetector(optFns ...func(o *DetectorOptions)) *Detector {
	opts := DetectorOptions{
		MaxRepetitions: 3,
		MaxSteps:       20,
		MaxStepHistory: 500,
		ReasoningCheck: true,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Detector{
		maxRepetitions: opts.MaxRepetitions,
		maxSteps:       opts.MaxSteps,
		maxStepHistory: opts.MaxStepHistory,
		reasoningCheck: opts.ReasoningCheck,
		logger:         opts.Logger,
	}
}

// WithMaxRepetitions sets the identical-step run length that flags repetition.
func WithMaxRepetitions(n int) func(o *DetectorOptions) {
	return func(o *DetectorOptions) { o.MaxRepetitions = n }
}

// WithMaxSteps sets the infinite-loop step ceiling.
func WithMaxSteps(n int) func(o *DetectorOptions) {
	return func(o *DetectorOptions) { o.MaxSteps = n }
}

// WithReasoningCheck toggles the reasoning-mismatch heuristic.
func WithReasoningCheck(enabled bool) func(o *DetectorOptions) {
	return func(o *DetectorOptions) { o.ReasoningCheck = enabled }
}

// WithDetectorLogger sets the logger.
func WithDetectorLogger(logger logging.Logger) func(o *DetectorOptions) {
	return func(o *DetectorOptions) { o.Logger = logger }
}

// CheckStepRepetition appends the step label to the history and flags high
// severity when the last MaxRepetitions entries are identical.
func (d *Detector) CheckStepRepetition(step string) *core.FailureEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.steps = append(d.steps, step)
	if len(d.steps) > d.maxStepHistory {
		d.steps = d.steps[len(d.steps)-d.maxStepHistory:]
	}

	if len(d.steps) < d.maxRepetitions {
		return nil
	}
	recent := d.steps[len(d.steps)-d.maxRepetitions:]
	for _, s := range recent {
		if s != step {
			return nil
		}
	}
	return core.NewFailureEvent(
		core.FailureStepRepetition,
		agentFromStep(step),
		fmt.Sprintf("step %q repeated %d times", step, d.maxRepetitions),
		core.SeverityHigh,
	)
}

// agentFromStep extracts the agent name from a step label of the form
// "<action> <agent>".
func agentFromStep(step string) string {
	fields := strings.Fields(step)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[len(fields)-1]
}

// CheckInfiniteLoop flags critical severity when the step count exceeds the
// configured ceiling.
func (d *Detector) CheckInfiniteLoop(stepCount int) *core.FailureEvent {
	if stepCount <= d.maxSteps {
		return nil
	}
	return core.NewFailureEvent(
		core.FailureInfiniteLoop,
		"system",
		fmt.Sprintf("workflow exceeded %d steps, possible infinite loop", d.maxSteps),
		core.SeverityCritical,
	)
}

// CheckRoleViolation flags medium severity when the attempted action is not
// in the agent's allowed-action set.
func (d *Detector) CheckRoleViolation(agent, action string, allowed []string) *core.FailureEvent {
	for _, a := range allowed {
		if a == action {
			return nil
		}
	}
	return core.NewFailureEvent(
		core.FailureRoleViolation,
		agent,
		fmt.Sprintf("agent attempted action %q outside its allowed set", action),
		core.SeverityMedium,
	)
}

// CheckReasoningMismatch flags low severity when the action name does not
// appear in the agent's stated reasoning. The check is a case-insensitive
// substring match, deliberately weak; it returns nil when the heuristic is
// disabled.
func (d *Detector) CheckReasoningMismatch(agent, reasoning, action string) *core.FailureEvent {
	if !d.reasoningCheck {
		return nil
	}
	if strings.Contains(strings.ToLower(reasoning), strings.ToLower(action)) {
		return nil
	}
	return core.NewFailureEvent(
		core.FailureReasoningMismatch,
		agent,
		"agent reasoning does not mention the action being taken",
		core.SeverityLow,
	)
}

// Record appends a detected failure to the append-only log.
func (d *Detector) Record(event *core.FailureEvent) {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
	d.logger.Warn("Failure detected", "kind", string(event.Kind), "agent", event.Agent, "severity", string(event.Severity), "description", event.Description)
}

// Events returns a copy of the failure log, oldest first.
func (d *Detector) Events() []*core.FailureEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]*core.FailureEvent(nil), d.events...)
}

// ResetSteps clears the step-repetition window, e.g. after a recovery skipped
// the offending agent.
func (d *Detector) ResetSteps() {
	d.mu.Lock()
	d.steps = nil
	d.mu.Unlock()
}

// Summary aggregates the failure log.
type Summary struct {
	Total         int                      `json:"total"`
	ByKind        map[core.FailureKind]int `json:"by_kind"`
	CriticalCount int                      `json:"critical_count"`
	Recent        []*core.FailureEvent     `json:"recent"`
}

// Summary returns total and per-kind counts, the critical count, and the
// five most recent events.
func (d *Detector) Summary() *Summary {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := &Summary{
		Total:  len(d.events),
		ByKind: make(map[core.FailureKind]int, len(core.FailureKinds)),
	}
	for _, kind := range core.FailureKinds {
		s.ByKind[kind] = 0
	}
	for _, e := range d.events {
		s.ByKind[e.Kind]++
		if e.Severity == core.SeverityCritical {
			s.CriticalCount++
		}
	}
	recent := d.events
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	s.Recent = append([]*core.FailureEvent(nil), recent...)
	return s
}

// ExportJSON renders the failure log as an ordered JSON array for offline
// inspection.
func (d *Detector) ExportJSON() ([]byte, error) {
	events := d.Events()
	return json.MarshalIndent(events, "", "  ")
}
