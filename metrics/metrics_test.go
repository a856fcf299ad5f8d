package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/provider"
)

func TestCollector_DeliveryCounters(t *testing.T) {
	c := New(prometheus.NewRegistry())

	msg := core.NewMessage(core.KindRequest, "planner", "executor", map[string]any{})
	c.MessageDelivered(msg)
	c.MessageDelivered(msg)
	c.MessageRetried(msg)
	c.DeadLettered("ack timeout after retries")
	c.DeadLettered("ack timeout after retries")
	c.DeadLettered("no handler registered")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.messagesDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messageRetries.WithLabelValues("executor")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.deadLetters.WithLabelValues("ack timeout after retries")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deadLetters.WithLabelValues("no handler registered")))
}

func TestCollector_RecoveryOutcomes(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.RecoveryCompleted(core.FailureStepRepetition, "reset_and_skip", true)
	c.RecoveryCompleted(core.FailureStepRepetition, "reset_and_skip", false)
	c.RecoveryCompleted(core.FailureInfiniteLoop, "force_terminate", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.recoveries.WithLabelValues("step_repetition", "reset_and_skip", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recoveries.WithLabelValues("step_repetition", "reset_and_skip", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recoveries.WithLabelValues("infinite_loop", "force_terminate", "success")))
}

func TestCollector_CircuitGauge(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.SetCircuitOpen("executor", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.circuitOpen.WithLabelValues("executor")))

	c.SetCircuitOpen("executor", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.circuitOpen.WithLabelValues("executor")))
}

func TestCollector_LLMCalls(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveLLMCall("anthropic", 120, false, 800*time.Millisecond)
	c.ObserveLLMCall("anthropic", 120, true, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmCalls.WithLabelValues("anthropic", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmCalls.WithLabelValues("anthropic", "true")))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.llmTokens), "cached calls do not add tokens")
}

func TestCollector_ObservesProviderChain(t *testing.T) {
	c := New(prometheus.NewRegistry())

	mock := provider.NewMockProvider("mock").QueueResponse("answer", 42)
	chain := provider.NewChain([]provider.Provider{mock}, provider.WithObserver(c))

	chain.Generate(context.Background(), "q")
	chain.Generate(context.Background(), "q")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmCalls.WithLabelValues("mock", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmCalls.WithLabelValues("mock", "true")))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.llmTokens))
}
