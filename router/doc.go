// Package router delivers messages between named agents with at-least-once
// semantics bounded by a retry count.
//
// A Router holds a handler registry keyed by agent name. Send invokes the
// receiver's handler synchronously and, for messages that require
// acknowledgment, waits on a per-message channel signaled by Acknowledge,
// retrying the handler a bounded number of times before recording a dead
// letter. Delivery failures are always recorded as dead letters and never
// propagate as errors past the router boundary; structural visibility comes
// from DeadLetters, PendingAcks and History.
//
// Messenger layers request/response (Ask), fire-and-forget (Tell) and
// negotiation (Bid) conveniences on top of a Router. Broadcaster provides
// topic fan-out through a bounded worker pool so a slow or failing subscriber
// never affects the publisher.
package router
