package failure

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func TestDetector_StepRepetition(t *testing.T) {
	d := NewDetector()

	assert.Nil(t, d.CheckStepRepetition("analyze writer"))
	assert.Nil(t, d.CheckStepRepetition("analyze writer"))

	event := d.CheckStepRepetition("analyze writer")
	require.NotNil(t, event)
	assert.Equal(t, core.FailureStepRepetition, event.Kind)
	assert.Equal(t, core.SeverityHigh, event.Severity)
	assert.Equal(t, "writer", event.Agent)
}

func TestDetector_NoRepetitionOnAlternation(t *testing.T) {
	d := NewDetector()

	assert.Nil(t, d.CheckStepRepetition("A"))
	assert.Nil(t, d.CheckStepRepetition("B"))
	assert.Nil(t, d.CheckStepRepetition("A"))
}

func TestDetector_ResetStepsClearsWindow(t *testing.T) {
	d := NewDetector()

	d.CheckStepRepetition("A")
	d.CheckStepRepetition("A")
	d.ResetSteps()
	assert.Nil(t, d.CheckStepRepetition("A"))
}

func TestDetector_InfiniteLoop(t *testing.T) {
	d := NewDetector(WithMaxSteps(20))

	assert.Nil(t, d.CheckInfiniteLoop(20))

	event := d.CheckInfiniteLoop(21)
	require.NotNil(t, event)
	assert.Equal(t, core.FailureInfiniteLoop, event.Kind)
	assert.Equal(t, core.SeverityCritical, event.Severity)
	assert.Equal(t, "system", event.Agent)
}

func TestDetector_RoleViolation(t *testing.T) {
	d := NewDetector()
	allowed := []string{"draft", "revise"}

	assert.Nil(t, d.CheckRoleViolation("writer", "draft", allowed))

	event := d.CheckRoleViolation("writer", "publish", allowed)
	require.NotNil(t, event)
	assert.Equal(t, core.FailureRoleViolation, event.Kind)
	assert.Equal(t, core.SeverityMedium, event.Severity)
	assert.Equal(t, "writer", event.Agent)
}

func TestDetector_ReasoningMismatch(t *testing.T) {
	d := NewDetector()

	assert.Nil(t, d.CheckReasoningMismatch("writer", "I will Draft the intro now", "draft"),
		"case-insensitive mention must pass")

	event := d.CheckReasoningMismatch("writer", "the weather is nice", "draft")
	require.NotNil(t, event)
	assert.Equal(t, core.FailureReasoningMismatch, event.Kind)
	assert.Equal(t, core.SeverityLow, event.Severity)
}

func TestDetector_ReasoningCheckDisabled(t *testing.T) {
	d := NewDetector(WithReasoningCheck(false))
	assert.Nil(t, d.CheckReasoningMismatch("writer", "unrelated text", "draft"))
}

func TestDetector_Summary(t *testing.T) {
	d := NewDetector()
	d.Record(core.NewFailureEvent(core.FailureTimeout, "a", "slow", core.SeverityMedium))
	d.Record(core.NewFailureEvent(core.FailureInfiniteLoop, "system", "stuck", core.SeverityCritical))
	for i := 0; i < 6; i++ {
		d.Record(core.NewFailureEvent(core.FailureStepRepetition, "b", "again", core.SeverityHigh))
	}

	s := d.Summary()
	assert.Equal(t, 8, s.Total)
	assert.Equal(t, 1, s.ByKind[core.FailureTimeout])
	assert.Equal(t, 6, s.ByKind[core.FailureStepRepetition])
	assert.Equal(t, 0, s.ByKind[core.FailureRoleViolation], "every taxonomy kind appears in the summary")
	assert.Equal(t, 1, s.CriticalCount)
	require.Len(t, s.Recent, 5)
	assert.Equal(t, core.FailureStepRepetition, s.Recent[4].Kind)
}

func TestDetector_ExportJSON(t *testing.T) {
	d := NewDetector()
	d.Record(core.NewFailureEvent(core.FailureTimeout, "a", "slow", core.SeverityMedium))
	d.Record(core.NewFailureEvent(core.FailureRoleViolation, "b", "off-script", core.SeverityMedium))

	raw, err := d.ExportJSON()
	require.NoError(t, err)

	var events []map[string]any
	require.NoError(t, json.Unmarshal(raw, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "timeout", events[0]["kind"])
	assert.Equal(t, "role_violation", events[1]["kind"])
}
