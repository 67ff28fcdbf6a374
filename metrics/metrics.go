package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for bridge_invocations_total.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeSpawnError = "spawn_error"
)

// Metrics holds all the Prometheus metrics for the bridge
type Metrics struct {
	Invocations   *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	InFlight      *prometheus.GaugeVec
	RejectedTotal *prometheus.CounterVec
	NotFoundTotal prometheus.Counter
}

// NewMetrics registers the bridge metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_invocations_total",
			Help: "Total number of program invocations by outcome",
		}, []string{"program", "outcome"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_invocation_duration_seconds",
			Help:    "Wall time of program invocations",
			Buckets: prometheus.DefBuckets,
		}, []string{"program"}),
		InFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_invocations_in_flight",
			Help: "Number of program invocations currently running",
		}, []string{"program"}),
		RejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_requests_rejected_total",
			Help: "Total number of POST requests rejected before a program was run",
		}, []string{"reason"}),
		NotFoundTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_not_found_total",
			Help: "Total number of non-POST requests answered with 404",
		}),
	}
}

// ObserveInvocation records one finished invocation.
func (m *Metrics) ObserveInvocation(program, outcome string, seconds float64) {
	m.Invocations.WithLabelValues(program, outcome).Inc()
	m.Duration.WithLabelValues(program).Observe(seconds)
}

// IncrementRejected increments bridge_requests_rejected_total for reason.
func (m *Metrics) IncrementRejected(reason string) {
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

// IncrementNotFound increments bridge_not_found_total.
func (m *Metrics) IncrementNotFound() {
	m.NotFoundTotal.Inc()
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
