package failure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func TestRecover_StepRepetitionSkipsAgent(t *testing.T) {
	d := NewDispatcher()
	state := NewCoordinationState()
	event := core.NewFailureEvent(core.FailureStepRepetition, "writer", "repeated", core.SeverityHigh)

	ok := d.Recover(event, state)

	assert.True(t, ok)
	assert.True(t, event.RecoveryAttempted)
	assert.True(t, event.RecoverySuccessful)
	assert.True(t, state.Skipped("writer"))
}

func TestRecover_InfiniteLoopTerminates(t *testing.T) {
	d := NewDispatcher()
	state := NewCoordinationState()
	state.SetPartialResult("draft", "half done")
	event := core.NewFailureEvent(core.FailureInfiniteLoop, "system", "stuck in a loop", core.SeverityCritical)

	require.True(t, d.Recover(event, state))

	terminated, reason := state.Terminated()
	assert.True(t, terminated)
	assert.Equal(t, "stuck in a loop", reason)
	assert.Equal(t, "half done", state.PartialResults()["draft"], "partial results survive termination")
}

func TestRecover_RoleViolationAddsGuardrail(t *testing.T) {
	d := NewDispatcher()
	state := NewCoordinationState()
	event := core.NewFailureEvent(core.FailureRoleViolation, "writer", "attempted publish", core.SeverityMedium)

	require.True(t, d.Recover(event, state))

	rails := state.Guardrails()
	require.Len(t, rails, 1)
	assert.Contains(t, rails[0], "writer")
	terminated, _ := state.Terminated()
	assert.False(t, terminated, "the workflow continues after a role violation")
}

func TestRecover_NoStrategyRegistered(t *testing.T) {
	d := NewDispatcher()
	event := core.NewFailureEvent(core.FailureTimeout, "a", "slow", core.SeverityMedium)

	ok := d.Recover(event, NewCoordinationState())

	assert.False(t, ok)
	assert.False(t, event.RecoveryAttempted)
	assert.False(t, event.RecoverySuccessful)
}

func TestRecover_ErroringStrategyFallsThrough(t *testing.T) {
	d := NewDispatcher(WithoutDefaults())
	d.Register(core.FailureTimeout, &Strategy{
		Name:        "flaky",
		SuccessRate: 0.9,
		Apply: func(event *core.FailureEvent, state *CoordinationState) (bool, error) {
			return false, errors.New("strategy exploded")
		},
	})
	d.Register(core.FailureTimeout, &Strategy{
		Name:        "fallback",
		SuccessRate: 0.5,
		Apply: func(event *core.FailureEvent, state *CoordinationState) (bool, error) {
			return true, nil
		},
	})

	event := core.NewFailureEvent(core.FailureTimeout, "a", "slow", core.SeverityMedium)
	ok := d.Recover(event, NewCoordinationState())

	assert.True(t, ok, "an erroring strategy must not stop the loop")
	assert.True(t, event.RecoverySuccessful)
}

func TestRecover_AllStrategiesFail(t *testing.T) {
	d := NewDispatcher(WithoutDefaults())
	d.Register(core.FailureTimeout, &Strategy{
		Name: "useless",
		Apply: func(event *core.FailureEvent, state *CoordinationState) (bool, error) {
			return false, nil
		},
	})

	event := core.NewFailureEvent(core.FailureTimeout, "a", "slow", core.SeverityMedium)
	ok := d.Recover(event, NewCoordinationState())

	assert.False(t, ok)
	assert.True(t, event.RecoveryAttempted)
	assert.False(t, event.RecoverySuccessful)
}

func TestRegister_OrdersBySuccessRate(t *testing.T) {
	d := NewDispatcher(WithoutDefaults())
	d.Register(core.FailureTimeout, &Strategy{Name: "weak", SuccessRate: 0.2})
	d.Register(core.FailureTimeout, &Strategy{Name: "strong", SuccessRate: 0.9})
	d.Register(core.FailureTimeout, &Strategy{Name: "middle", SuccessRate: 0.5})

	got := d.Strategies(core.FailureTimeout)
	require.Len(t, got, 3)
	assert.Equal(t, "strong", got[0].Name)
	assert.Equal(t, "middle", got[1].Name)
	assert.Equal(t, "weak", got[2].Name)
}

func TestCoordinationState_RollbackHook(t *testing.T) {
	state := NewCoordinationState()
	assert.ErrorIs(t, state.Rollback(), ErrNoRollback)

	called := false
	state.SetRollback(func() error {
		called = true
		return nil
	})

	require.NoError(t, state.Rollback())
	assert.True(t, called)
}

func TestCoordinationState_ClearSkip(t *testing.T) {
	state := NewCoordinationState()
	state.SkipAgent("writer")
	require.True(t, state.Skipped("writer"))

	state.ClearSkip("writer")
	assert.False(t, state.Skipped("writer"))
}

func TestCoordinationState_ClearSkipsRemovesAll(t *testing.T) {
	state := NewCoordinationState()
	state.SkipAgent("writer")
	state.SkipAgent("reviewer")

	state.ClearSkips()

	assert.False(t, state.Skipped("writer"))
	assert.False(t, state.Skipped("reviewer"))
}
