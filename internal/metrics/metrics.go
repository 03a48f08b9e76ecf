package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chunkstream"

// Metrics holds the transfer collectors and the registry they live in.
type Metrics struct {
	Registry *prometheus.Registry

	transfers      *prometheus.CounterVec
	transferBytes  *prometheus.CounterVec
	blocks         *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// New creates the collectors on a private registry, alongside the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Finished transfer sessions by kind and status.",
		}, []string{"kind", "status"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved by transfer sessions.",
		}, []string{"kind"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Blocks moved by transfer sessions.",
		}, []string{"kind"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Transfer sessions currently open.",
		}),
	}

	m.Registry.MustRegister(
		m.transfers,
		m.transferBytes,
		m.blocks,
		m.activeSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SessionOpened records a new active session.
func (m *Metrics) SessionOpened() {
	m.activeSessions.Inc()
}

// SessionClosed records the outcome of a session.
func (m *Metrics) SessionClosed(kind, status string, bytes, blocks int64) {
	m.activeSessions.Dec()
	m.transfers.WithLabelValues(kind, status).Inc()
	m.transferBytes.WithLabelValues(kind).Add(float64(bytes))
	m.blocks.WithLabelValues(kind).Add(float64(blocks))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
