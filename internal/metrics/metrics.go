// Package metrics holds the bridge's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bridge"

type Metrics struct {
	cycles      *prometheus.CounterVec
	completions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	deliveries  *prometheus.CounterVec
	tokens      prometheus.Counter
}

// New registers the collectors on reg. A nil reg registers nothing, which
// keeps tests free of global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_cycles_total",
			Help:      "Relay cycles by terminal state.",
		}, []string{"state"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completion calls by serving endpoint and result kind.",
		}, []string{"endpoint", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Completion latency including fallback.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound deliveries by kind (reply, notice) and result.",
		}, []string{"kind", "result"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_tokens_total",
			Help:      "Total tokens reported by the provider.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.completions, m.latency, m.deliveries, m.tokens)
	}
	return m
}

// RegisterSessions exposes the live session count as a gauge.
func RegisterSessions(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Sessions currently held in memory.",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) Cycle(state string) {
	m.cycles.WithLabelValues(state).Inc()
}

// Completion records one Complete call. result is "ok" or the error kind.
func (m *Metrics) Completion(endpoint, result string, d time.Duration, tokens int) {
	m.completions.WithLabelValues(endpoint, result).Inc()
	m.latency.WithLabelValues(result).Observe(d.Seconds())
	if tokens > 0 {
		m.tokens.Add(float64(tokens))
	}
}

func (m *Metrics) Delivery(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.deliveries.WithLabelValues(kind, result).Inc()
}
