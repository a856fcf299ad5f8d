package core

import "time"

// FailureKind is one of the MAST (multi-agent system failure taxonomy)
// categories the detector can flag. The set is fixed; each kind belongs to one
// of five groups: specification, inter-agent, execution, quality, resource.
type FailureKind string

const (
	// FailureTaskMisalignment: agent misunderstands the task (specification).
	FailureTaskMisalignment FailureKind = "task_misalignment"
	// FailureRoleViolation: agent acts outside its declared role (specification).
	FailureRoleViolation FailureKind = "role_violation"
	// FailureInformationWithholding: agent fails to share critical info (inter-agent).
	FailureInformationWithholding FailureKind = "information_withholding"
	// FailureCoordination: agents fail to coordinate a handoff (inter-agent).
	FailureCoordination FailureKind = "coordination_failure"
	// FailureStepRepetition: agent repeats the same step (execution).
	FailureStepRepetition FailureKind = "step_repetition"
	// FailureInfiniteLoop: workflow stuck in a loop (execution).
	FailureInfiniteLoop FailureKind = "infinite_loop"
	// FailurePrematureTermination: agent quits before completing (execution).
	FailurePrematureTermination FailureKind = "premature_termination"
	// FailureInsufficientVerification: outputs not verified (quality).
	FailureInsufficientVerification FailureKind = "insufficient_verification"
	// FailureReasoningMismatch: stated reasoning does not match the action (quality).
	FailureReasoningMismatch FailureKind = "reasoning_mismatch"
	// FailureTimeout: operation took too long (resource).
	FailureTimeout FailureKind = "timeout"
	// FailureResourceExhausted: ran out of tokens/memory (resource).
	FailureResourceExhausted FailureKind = "resource_exhausted"
)

// FailureKinds lists every taxonomy kind, in group order. Useful for
// exhaustive summaries.
var FailureKinds = []FailureKind{
	FailureTaskMisalignment,
	FailureRoleViolation,
	FailureInformationWithholding,
	FailureCoordination,
	FailureStepRepetition,
	FailureInfiniteLoop,
	FailurePrematureTermination,
	FailureInsufficientVerification,
	FailureReasoningMismatch,
	FailureTimeout,
	FailureResourceExhausted,
}

// Severity grades how serious a detected failure is.
type Severity string

const (
	// SeverityLow failures are informational.
	SeverityLow Severity = "low"
	// SeverityMedium failures warrant guardrails but not intervention.
	SeverityMedium Severity = "medium"
	// SeverityHigh failures require recovery.
	SeverityHigh Severity = "high"
	// SeverityCritical failures require immediate intervention or escalation.
	SeverityCritical Severity = "critical"
)

// FailureEvent is a detected failure. The detector creates it; only the
// recovery dispatcher mutates the two recovery flags afterwards. Events live
// in an append-only log and are exportable as JSON for offline inspection.
type FailureEvent struct {
	Kind               FailureKind    `json:"kind"`
	Agent              string         `json:"agent"`
	Description        string         `json:"description"`
	Severity           Severity       `json:"severity"`
	Timestamp          time.Time      `json:"timestamp"`
	Context            map[string]any `json:"context,omitempty"`
	RecoveryAttempted  bool           `json:"recovery_attempted"`
	RecoverySuccessful bool           `json:"recovery_successful"`
}

// NewFailureEvent creates a failure event with a UTC timestamp and an empty
// context map.
func NewFailureEvent(kind FailureKind, agent, description string, severity Severity) *FailureEvent {
	return &FailureEvent{
		Kind:        kind,
		Agent:       agent,
		Description: description,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		Context:     map[string]any{},
	}
}
