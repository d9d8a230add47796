package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the settlement pipeline's instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	SettlementsTotal  *prometheus.CounterVec
	LegsTotal         *prometheus.CounterVec
	ProviderFailovers prometheus.Counter
	QueueDepth        prometheus.Gauge
	GasUsed           prometheus.Histogram
}

// New registers the pipeline metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SettlementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiprelay_settlements_total",
			Help: "Settlement attempts by outcome.",
		}, []string{"outcome"}),
		LegsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiprelay_legs_total",
			Help: "Settled legs by outcome.",
		}, []string{"outcome"}),
		ProviderFailovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tiprelay_provider_failovers_total",
			Help: "RPC endpoint failovers.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tiprelay_queue_depth",
			Help: "Validated candidates awaiting settlement.",
		}),
		GasUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiprelay_settlement_gas_used",
			Help:    "Gas used per confirmed settlement.",
			Buckets: prometheus.ExponentialBuckets(50_000, 2, 8),
		}),
	}

	registry.MustRegister(
		m.SettlementsTotal,
		m.LegsTotal,
		m.ProviderFailovers,
		m.QueueDepth,
		m.GasUsed,
	)
	return m
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
