// Package metrics exposes Prometheus instrumentation for the coordination
// substrate. Collector implements the observer interfaces of the router,
// failure and provider packages, so wiring it up is a matter of passing it as
// an option.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/failure"
	"github.com/hupe1980/agentrelay/provider"
	"github.com/hupe1980/agentrelay/router"
)

// Compile-time checks for the observer contracts.
var (
	_ router.Observer   = (*Collector)(nil)
	_ failure.Observer  = (*Collector)(nil)
	_ provider.Observer = (*Collector)(nil)
)

// Collector records delivery, recovery, circuit and model-call metrics.
type Collector struct {
	messagesDelivered prometheus.Counter
	messageRetries    *prometheus.CounterVec
	deadLetters       *prometheus.CounterVec
	recoveries        *prometheus.CounterVec
	circuitOpen       *prometheus.GaugeVec
	llmCalls          *prometheus.CounterVec
	llmTokens         prometheus.Counter
	llmLatency        prometheus.Histogram
}

// New creates a Collector registered on the given registerer. Pass
// prometheus.DefaultRegisterer for the process-wide registry or a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		messagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentrelay_messages_delivered_total",
			Help: "Total number of messages delivered to a handler",
		}),
		messageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrelay_message_retries_total",
			Help: "Total number of redelivery attempts after a missed acknowledgment",
		}, []string{"receiver"}),
		deadLetters: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrelay_dead_letters_total",
			Help: "Total number of undeliverable messages by reason",
		}, []string{"reason"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrelay_recoveries_total",
			Help: "Total number of recovery attempts by failure kind, strategy and outcome",
		}, []string{"kind", "strategy", "outcome"}),
		circuitOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentrelay_circuit_open",
			Help: "Whether the circuit for an agent is currently open (1) or closed (0)",
		}, []string{"agent"}),
		llmCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrelay_llm_calls_total",
			Help: "Total number of model calls by provider and cache outcome",
		}, []string{"provider", "cached"}),
		llmTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentrelay_llm_tokens_total",
			Help: "Total number of tokens consumed by model calls",
		}),
		llmLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentrelay_llm_latency_seconds",
			Help:    "Latency of model calls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// MessageDelivered counts a successful handler delivery.
func (c *Collector) MessageDelivered(_ *core.Message) {
	c.messagesDelivered.Inc()
}

// MessageRetried counts a redelivery attempt.
func (c *Collector) MessageRetried(msg *core.Message) {
	c.messageRetries.WithLabelValues(msg.Receiver).Inc()
}

// DeadLettered counts an undeliverable message.
func (c *Collector) DeadLettered(reason string) {
	c.deadLetters.WithLabelValues(reason).Inc()
}

// RecoveryCompleted counts one recovery attempt outcome.
func (c *Collector) RecoveryCompleted(kind core.FailureKind, strategy string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.recoveries.WithLabelValues(string(kind), strategy, outcome).Inc()
}

// SetCircuitOpen records the current circuit state for an agent.
func (c *Collector) SetCircuitOpen(agent string, open bool) {
	val := 0.0
	if open {
		val = 1.0
	}
	c.circuitOpen.WithLabelValues(agent).Set(val)
}

// ObserveLLMCall records one model call.
func (c *Collector) ObserveLLMCall(provider string, tokens int, cached bool, latency time.Duration) {
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	c.llmCalls.WithLabelValues(provider, cachedLabel).Inc()
	if !cached {
		c.llmTokens.Add(float64(tokens))
		c.llmLatency.Observe(latency.Seconds())
	}
}
