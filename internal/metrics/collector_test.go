package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	return NewCollector("test", registry, nil), registry
}

func TestCollector_RecordRun(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRun("deploy", "success", 3*time.Second)
	c.RecordRun("deploy", "success", time.Second)
	c.RecordRun("deploy", "Failed", time.Second)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.runsTotal.WithLabelValues("deploy", "success")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.runsTotal.WithLabelValues("deploy", "Failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.runDuration))
}

func TestCollector_RecordCycle(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordCycle("build", "success", 200*time.Millisecond)
	c.RecordCycle("build", "failure", 100*time.Millisecond)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.cyclesTotal.WithLabelValues("build", "success")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.cyclesTotal.WithLabelValues("build", "failure")))
}

func TestCollector_RecordRecovery(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRecovery("test", "fetch")
	c.RecordRecovery("test", "fetch")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.recoveriesTotal.WithLabelValues("test", "fetch")))
}

func TestCollector_RecordToolCall(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordToolCall("search", false)
	c.RecordToolCall("search", true)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.toolCallsTotal.WithLabelValues("search", "ok")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.toolCallsTotal.WithLabelValues("search", "error")))
}

func TestCollector_RecordTokens(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordTokens("openai", 100, 40)
	c.RecordTokens("openai", 50, 10)

	assert.Equal(t, float64(150),
		testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("openai", "prompt")))
	assert.Equal(t, float64(50),
		testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("openai", "completion")))
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// Two collectors under the same namespace must not collide as long as
	// each gets its own registry.
	r1 := prometheus.NewRegistry()
	r2 := prometheus.NewRegistry()
	require.NotPanics(t, func() {
		NewCollector("planweave", r1, nil)
		NewCollector("planweave", r2, nil)
	})
}
