package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// EventType classifies a trace event.
type EventType string

const (
	// EventAgentCall records one agent invocation.
	EventAgentCall EventType = "agent_call"
	// EventToolUsage records one tool invocation.
	EventToolUsage EventType = "tool_usage"
	// EventDecision records a decision point.
	EventDecision EventType = "decision"
	// EventError records an error.
	EventError EventType = "error"
	// EventRecovery records a recovery attempt for a detected failure.
	EventRecovery EventType = "recovery"
)

// Trace statuses.
const (
	// StatusRunning marks a trace still collecting events.
	StatusRunning = "running"
	// StatusCompleted marks a trace that ended normally.
	StatusCompleted = "completed"
	// StatusFailed marks a trace that ended in failure.
	StatusFailed = "failed"
)

// Event is a single timestamped trace entry.
type Event struct {
	Type       EventType      `json:"event_type"`
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMS float64        `json:"duration_ms,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Summary aggregates the events of one trace.
type Summary struct {
	TotalEvents    int      `json:"total_events"`
	AgentCalls     int      `json:"agent_calls"`
	ToolUsages     int      `json:"tool_usages"`
	Errors         int      `json:"errors"`
	Recoveries     int      `json:"recoveries"`
	AgentsInvolved []string `json:"agents_involved"`
	ToolsUsed      []string `json:"tools_used"`
}

// Trace is the complete event record of one workflow run.
type Trace struct {
	ID              string    `json:"trace_id"`
	Workflow        string    `json:"workflow_name"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time,omitempty"`
	Events          []*Event  `json:"events"`
	TotalDurationMS float64   `json:"total_duration_ms,omitempty"`
	Status          string    `json:"status"`
	Summary         *Summary  `json:"summary,omitempty"`
}

// Options configures a Tracer.
type Options struct {
	// Logger receives trace lifecycle logs.
	Logger logging.Logger
}

// Tracer collects execution events for at most one active trace. Logging
// methods are no-ops while no trace is active. Safe for concurrent use.
type Tracer struct {
	mu      sync.Mutex
	current *Trace
	started time.Time
	logger  logging.Logger
}

// NewTracer creates a Tracer.
func NewTracer(optFns ...func(o *Options)) *Tracer {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Tracer{logger: opts.Logger}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logger }
}

// Start begins a new trace for the named workflow, replacing any active one,
// and returns the trace id.
func (t *Tracer) Start(workflow string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := core.NewID()[:8]
	t.current = &Trace{
		ID:        id,
		Workflow:  workflow,
		StartTime: time.Now().UTC(),
		Status:    StatusRunning,
	}
	t.started = time.Now()
	t.logger.Info("Trace started", "trace_id", id, "workflow", workflow)
	return id
}

func (t *Tracer) append(e *Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return
	}
	t.current.Events = append(t.current.Events, e)
}

// LogAgentCall records one agent invocation with input/output summaries.
func (t *Tracer) LogAgentCall(agent string, input, output map[string]any, dur time.Duration, status string) {
	t.append(&Event{
		Type:       EventAgentCall,
		Name:       agent,
		Timestamp:  time.Now().UTC(),
		DurationMS: float64(dur) / float64(time.Millisecond),
		Input:      input,
		Output:     output,
		Metadata:   map[string]any{"status": status},
	})
}

// LogToolUsage records one tool invocation. Argument and result values are
// truncated so traces stay small.
func (t *Tracer) LogToolUsage(tool string, args map[string]any, result any, dur time.Duration) {
	argsSummary := make(map[string]any, len(args))
	for k, v := range args {
		argsSummary[k] = truncate(fmt.Sprintf("%v", v), 100)
	}
	var resultSummary any
	if result != nil {
		resultSummary = truncate(fmt.Sprintf("%v", result), 200)
	}
	t.append(&Event{
		Type:       EventToolUsage,
		Name:       tool,
		Timestamp:  time.Now().UTC(),
		DurationMS: float64(dur) / float64(time.Millisecond),
		Input:      argsSummary,
		Output:     map[string]any{"result": resultSummary},
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// LogDecision records a decision point.
func (t *Tracer) LogDecision(agent, decision, reason string) {
	t.append(&Event{
		Type:      EventDecision,
		Name:      agent,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{"decision": decision, "reason": reason},
	})
}

// LogError records an error with a free-form category.
func (t *Tracer) LogError(agent, errMsg, category string) {
	t.append(&Event{
		Type:      EventError,
		Name:      agent,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{"error": errMsg, "category": category},
	})
}

// LogRecovery records a recovery attempt for a detected failure.
func (t *Tracer) LogRecovery(event *core.FailureEvent, strategy string, success bool) {
	t.append(&Event{
		Type:      EventRecovery,
		Name:      event.Agent,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]any{
			"failure_kind": string(event.Kind),
			"severity":     string(event.Severity),
			"strategy":     strategy,
			"success":      success,
		},
	})
}

// End closes the active trace with the given status, fills in duration and
// summary, and returns it. Returns nil when no trace is active.
func (t *Tracer) End(status string) *Trace {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil
	}
	tr := t.current
	tr.EndTime = time.Now().UTC()
	tr.Status = status
	tr.TotalDurationMS = float64(time.Since(t.started)) / float64(time.Millisecond)
	tr.Summary = summarize(tr)
	t.current = nil

	t.logger.Info("Trace ended", "trace_id", tr.ID, "status", status, "events", len(tr.Events))
	return tr
}

func summarize(tr *Trace) *Summary {
	s := &Summary{TotalEvents: len(tr.Events)}
	agents := map[string]bool{}
	tools := map[string]bool{}
	for _, e := range tr.Events {
		switch e.Type {
		case EventAgentCall:
			s.AgentCalls++
			agents[e.Name] = true
		case EventToolUsage:
			s.ToolUsages++
			tools[e.Name] = true
		case EventError:
			s.Errors++
		case EventRecovery:
			s.Recoveries++
		}
	}
	s.AgentsInvolved = sortedKeys(agents)
	s.ToolsUsed = sortedKeys(tools)
	return s
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Export writes the given trace as an indented JSON document.
func Export(w io.Writer, tr *Trace) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tr)
}

// ExportFile writes the trace into dir as trace_<id>.json and returns the
// path.
func ExportFile(dir string, tr *Trace) (string, error) {
	path := filepath.Join(dir, "trace_"+tr.ID+".json")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create trace file: %w", err)
	}
	defer f.Close()

	if err := Export(f, tr); err != nil {
		return "", fmt.Errorf("write trace file: %w", err)
	}
	return path, nil
}

// ExportDeadLetters renders a dead letter queue as an ordered JSON array for
// offline inspection.
func ExportDeadLetters(letters []*core.DeadLetter) ([]byte, error) {
	return json.MarshalIndent(letters, "", "  ")
}
