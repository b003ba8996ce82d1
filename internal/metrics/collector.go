// Package metrics aggregates the engine's Prometheus metrics: run and cycle
// counters, recovery rewinds, tool invocations and token usage.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the engine's Prometheus metrics.
type Collector struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	cyclesTotal  *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	recoveriesTotal *prometheus.CounterVec

	toolCallsTotal *prometheus.CounterVec

	llmTokensUsed *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the metric families under the given namespace.
// A nil registerer falls back to the process-wide default; tests pass their
// own registry so repeated construction does not panic on re-registration.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of workflow runs",
		},
		[]string{"plan", "status"},
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"plan"},
	)

	c.cyclesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of executed step cycles",
		},
		[]string{"step", "outcome"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"step"},
	)

	c.recoveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Total number of recovery rewinds",
		},
		[]string{"failed_step", "target_step"},
	)

	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "type"}, // type: prompt, completion
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordRun records a completed workflow run.
func (c *Collector) RecordRun(planName, status string, duration time.Duration) {
	c.runsTotal.WithLabelValues(planName, status).Inc()
	c.runDuration.WithLabelValues(planName).Observe(duration.Seconds())
}

// RecordCycle records one executed step cycle.
func (c *Collector) RecordCycle(step, outcome string, duration time.Duration) {
	c.cyclesTotal.WithLabelValues(step, outcome).Inc()
	c.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordRecovery records a recovery rewind from a failed step to its target.
func (c *Collector) RecordRecovery(failedStep, targetStep string) {
	c.recoveriesTotal.WithLabelValues(failedStep, targetStep).Inc()
}

// RecordToolCall records one tool invocation.
func (c *Collector) RecordToolCall(tool string, isError bool) {
	status := "ok"
	if isError {
		status = "error"
	}
	c.toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordTokens records LLM token usage.
func (c *Collector) RecordTokens(provider string, promptTokens, completionTokens int) {
	c.llmTokensUsed.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, "completion").Add(float64(completionTokens))
}
