package engine

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for one engine.
type Metrics struct {
	opsTotal     *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	arraysActive prometheus.Gauge
	elementsHeld prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		opsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_ops_total",
				Help: "Total number of array operations by operation and status",
			},
			[]string{"op", "status"},
		),

		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_op_duration_seconds",
				Help:    "Array operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),

		arraysActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_arrays_active",
				Help: "Number of array shards currently held",
			},
		),

		elementsHeld: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_elements_held",
				Help: "Total number of shard elements currently held",
			},
		),

		registry: registry,
	}

	registry.MustRegister(m.opsTotal, m.opDuration, m.arraysActive, m.elementsHeld)
	return m
}

// RecordOp counts one operation and its latency.
func (m *Metrics) RecordOp(op, status string, seconds float64) {
	m.opsTotal.WithLabelValues(op, status).Inc()
	m.opDuration.WithLabelValues(op).Observe(seconds)
}

// SetArrays updates the shard and element gauges.
func (m *Metrics) SetArrays(arrays, elements int) {
	m.arraysActive.Set(float64(arrays))
	m.elementsHeld.Set(float64(elements))
}

// Handler exposes the engine registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
