// Package breaker implements a per-agent circuit breaker.
//
// Each agent name gets a small state machine: closed circuits count
// consecutive failures, open circuits block calls until a cool-down elapses,
// and half-open circuits allow a single probe call whose outcome decides
// whether the circuit closes again or reopens. Callers are expected to check
// IsOpen before invoking an agent and to report the outcome with
// RecordSuccess or RecordFailure; the breaker itself never invokes anything.
package breaker
