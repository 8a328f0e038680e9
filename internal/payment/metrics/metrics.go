package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks checkout creation, verification outcomes and event publishing.
type Metrics struct {
	CheckoutsCreated   *prometheus.CounterVec
	Verifications      *prometheus.CounterVec
	Reconciliations    *prometheus.CounterVec
	ReconcileDuration  prometheus.Histogram
	ProviderDuration   *prometheus.HistogramVec
	EventPublishFailed prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CheckoutsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circlesphere_checkouts_created_total",
			Help: "Hosted checkout sessions created, by payment kind",
		}, []string{"kind"}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circlesphere_payment_verifications_total",
			Help: "Payment verification attempts by outcome",
		}, []string{"outcome"}),
		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circlesphere_reconciliations_total",
			Help: "Reconciled payments by kind and whether they were already recorded",
		}, []string{"kind", "result"}),
		ReconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "circlesphere_reconcile_duration_seconds",
			Help:    "Duration of the reconcile store transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ProviderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "circlesphere_provider_call_duration_seconds",
			Help:    "Duration of payment provider calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		EventPublishFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "circlesphere_payment_event_publish_failures_total",
			Help: "Domain events that could not be published after commit",
		}),
	}
}

func (m *Metrics) IncCheckout(kind string) {
	if m != nil {
		m.CheckoutsCreated.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncVerification(outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncReconciled(kind string, alreadyRecorded bool) {
	if m == nil {
		return
	}
	result := "recorded"
	if alreadyRecorded {
		result = "already_recorded"
	}
	m.Reconciliations.WithLabelValues(kind, result).Inc()
}

// ObserveReconcile records the duration since start.
func (m *Metrics) ObserveReconcile(start time.Time) {
	if m != nil {
		m.ReconcileDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ObserveProvider(operation string, start time.Time) {
	if m != nil {
		m.ProviderDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncPublishFailed() {
	if m != nil {
		m.EventPublishFailed.Inc()
	}
}
