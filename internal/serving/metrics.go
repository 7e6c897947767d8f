package serving

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the serving collectors on a dedicated registry so /metrics
// exposes only what this server records.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.SummaryVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_requests_total",
				Help: "Total number of prediction requests.",
			},
			[]string{"model_name", "status"},
		),
		latency: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       "prediction_latency_seconds",
				Help:       "Time spent processing prediction requests.",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			[]string{"model_name"},
		),
	}
	m.registry.MustRegister(m.requests, m.latency)
	return m
}

func (m *Metrics) observe(modelName, status string, seconds float64) {
	m.requests.WithLabelValues(modelName, status).Inc()
	m.latency.WithLabelValues(modelName).Observe(seconds)
}

// Handler serves the Prometheus text exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry to tests and embedding servers.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
