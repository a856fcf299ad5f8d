package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExhausted signals that a call budget has been spent.
var ErrBudgetExhausted = errors.New("call budget exhausted")

// CallLimiter enforces a maximum number of model calls per workflow run, so a
// looping workflow burns a bounded token budget instead of an unbounded one.
type CallLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallLimiter creates a limiter with a maximum number of calls.
// If max == 0, unlimited calls are allowed.
func NewCallLimiter(max int) *CallLimiter {
	return &CallLimiter{max: max}
}

// Increment spends one call from the budget and returns ErrBudgetExhausted
// once the limit is exceeded.
func (l *CallLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("%w: %d calls", ErrBudgetExhausted, l.max)
	}

	return nil
}

// Count returns the number of calls made so far.
func (l *CallLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many calls are left before hitting the limit, or -1
// when the limiter is unlimited.
func (l *CallLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1
	}

	return l.max - l.count
}

// Reset restores the full budget, e.g. at the start of a new workflow run.
func (l *CallLimiter) Reset() {
	l.mu.Lock()
	l.count = 0
	l.mu.Unlock()
}
