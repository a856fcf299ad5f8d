// Package trace records timestamped execution events for one workflow run
// and exports them as a JSON document keyed by trace id.
//
// A Tracer owns at most one active trace. Events cover agent calls, tool
// usage, decisions, errors and recovery attempts; logging without an active
// trace is a no-op so instrumentation never has to guard call sites. Dead
// letter queues export as ordered JSON arrays through ExportDeadLetters.
package trace
