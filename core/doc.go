// Package core provides the foundational domain types used by AgentRelay. It
// defines the shared contracts for:
//
//   - Messages (units of agent-to-agent communication with delivery tracking)
//   - Dead letters (immutable records of undeliverable traffic)
//   - The MAST failure taxonomy and failure events
//   - Call budgets (per-run limits on model calls)
//
// The package intentionally keeps behavioral concerns (routing, fencing,
// versioned state, detection and recovery) out of scope; those live in the
// packages that own the respective state machines. Keeping the data contracts
// central avoids dependency cycles between router, breaker, state and failure.
package core
