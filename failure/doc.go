// Package failure detects anomalous agent behavior and dispatches recovery.
//
// Detector classifies behavior into the MAST taxonomy (step repetition,
// infinite loops, role violations, reasoning mismatches and friends) and
// keeps an append-only failure log. Dispatcher maps each failure kind to an
// ordered list of named strategies; Recover tries them in order until one
// succeeds, recording the outcome on the event. Strategies act on a typed
// CoordinationState (skip an agent, terminate the workflow, tighten
// guardrails) and return explicit results instead of raising.
package failure
