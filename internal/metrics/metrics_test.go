package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Cycle("delivered")
	m.Cycle("delivered")
	m.Cycle("failed")
	m.Completion("primary", "ok", 300*time.Millisecond, 42)
	m.Delivery("reply", true)
	m.Delivery("notice", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completions.WithLabelValues("primary", "ok")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.tokens))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("notice", "error")))

	n := 3
	RegisterSessions(reg, func() int { return n })
	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "bridge_sessions_active" {
			found = true
			assert.Equal(t, 3.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestNew_NilRegisterer(t *testing.T) {
	m := New(nil)
	m.Cycle("skipped")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("skipped")))
}
