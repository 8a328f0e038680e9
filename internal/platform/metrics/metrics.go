package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP-level Prometheus metrics shared by all routes.
type Metrics struct {
	RequestLatency  *prometheus.HistogramVec
	PanicsRecovered prometheus.Counter
}

// New creates and registers the HTTP metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "circlesphere_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern, method and status class",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method", "status"}),
		PanicsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "circlesphere_http_panics_recovered_total",
			Help: "Handler panics recovered by middleware",
		}),
	}
}

// ObserveRequest records the latency of a finished request.
func (m *Metrics) ObserveRequest(route, method, status string, d time.Duration) {
	if m != nil {
		m.RequestLatency.WithLabelValues(route, method, status).Observe(d.Seconds())
	}
}

// IncPanics counts a recovered panic.
func (m *Metrics) IncPanics() {
	if m != nil {
		m.PanicsRecovered.Inc()
	}
}
