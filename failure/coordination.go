package failure

import (
	"errors"
	"sync"
)

// ErrNoRollback is returned by Rollback when no hook has been installed.
var ErrNoRollback = errors.New("no rollback hook installed")

// CoordinationState is the typed view of workflow state that recovery
// strategies act on. Strategies record their corrective decisions here; the
// coordinator consults it between steps. Safe for concurrent use.
type CoordinationState struct {
	mu                sync.Mutex
	skipped           map[string]bool
	terminated        bool
	terminationReason string
	guardrails        []string
	partial           map[string]any
	rollback          func() error
}

// NewCoordinationState creates an empty coordination state.
func NewCoordinationState() *CoordinationState {
	return &CoordinationState{
		skipped: make(map[string]bool),
		partial: make(map[string]any),
	}
}

// SkipAgent marks the agent to be skipped for the current cycle.
func (s *CoordinationState) SkipAgent(agent string) {
	s.mu.Lock()
	s.skipped[agent] = true
	s.mu.Unlock()
}

// ClearSkip removes the skip mark for the agent.
func (s *CoordinationState) ClearSkip(agent string) {
	s.mu.Lock()
	delete(s.skipped, agent)
	s.mu.Unlock()
}

// ClearSkips removes every skip mark, e.g. at the start of a new cycle.
func (s *CoordinationState) ClearSkips() {
	s.mu.Lock()
	s.skipped = make(map[string]bool)
	s.mu.Unlock()
}

// Skipped reports whether the agent is currently marked to be skipped.
func (s *CoordinationState) Skipped(agent string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.skipped[agent]
}

// Terminate marks the workflow for termination, preserving partial results.
func (s *CoordinationState) Terminate(reason string) {
	s.mu.Lock()
	s.terminated = true
	s.terminationReason = reason
	s.mu.Unlock()
}

// Terminated reports whether termination was requested and why.
func (s *CoordinationState) Terminated() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.terminated, s.terminationReason
}

// AddGuardrail records a tightened-guardrail note for later steps.
func (s *CoordinationState) AddGuardrail(note string) {
	s.mu.Lock()
	s.guardrails = append(s.guardrails, note)
	s.mu.Unlock()
}

// Guardrails returns the recorded guardrail notes.
func (s *CoordinationState) Guardrails() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.guardrails...)
}

// SetRollback installs the hook a strategy calls to roll shared state back.
// The owner of the state head (usually the coordinator) provides it.
func (s *CoordinationState) SetRollback(fn func() error) {
	s.mu.Lock()
	s.rollback = fn
	s.mu.Unlock()
}

// Rollback invokes the installed rollback hook.
func (s *CoordinationState) Rollback() error {
	s.mu.Lock()
	fn := s.rollback
	s.mu.Unlock()

	if fn == nil {
		return ErrNoRollback
	}
	return fn()
}

// SetPartialResult stores an intermediate result so it survives a forced
// termination.
func (s *CoordinationState) SetPartialResult(key string, value any) {
	s.mu.Lock()
	s.partial[key] = value
	s.mu.Unlock()
}

// PartialResults returns a copy of the stored intermediate results.
func (s *CoordinationState) PartialResults() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.partial))
	for k, v := range s.partial {
		out[k] = v
	}
	return out
}
