// Package state provides a versioned, diffable, rollback-capable shared
// context for agent coordination.
//
// Every mutation goes through VersionedContext.Apply, which is copy-on-write:
// the caller gets a new context value and the original is untouched, so
// concurrent holders of an older reference always see a stable snapshot.
// Versions form an append-only chain with content hashes for cheap equality,
// a transaction log records every field-level mutation, and named checkpoints
// give human-friendly rollback targets. Deciding which new value becomes the
// current head is the coordinator's job, not this package's.
package state
