package core

import (
	"errors"
	"testing"
)

func TestCallLimiter_Budget(t *testing.T) {
	l := NewCallLimiter(2)

	if err := l.Increment(); err != nil {
		t.Fatalf("first call should be allowed: %v", err)
	}
	if err := l.Increment(); err != nil {
		t.Fatalf("second call should be allowed: %v", err)
	}
	if err := l.Increment(); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	if got := l.Count(); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
}

func TestCallLimiter_Unlimited(t *testing.T) {
	l := NewCallLimiter(0)

	for i := 0; i < 100; i++ {
		if err := l.Increment(); err != nil {
			t.Fatalf("unlimited limiter rejected call %d: %v", i, err)
		}
	}
	if got := l.Remaining(); got != -1 {
		t.Errorf("Remaining = %d, want -1 for unlimited", got)
	}
}

func TestCallLimiter_Reset(t *testing.T) {
	l := NewCallLimiter(1)

	if err := l.Increment(); err != nil {
		t.Fatal(err)
	}
	l.Reset()

	if err := l.Increment(); err != nil {
		t.Fatalf("call after reset should be allowed: %v", err)
	}
	if got := l.Remaining(); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
}
