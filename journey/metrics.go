package journey

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the engine updates during a
// run. Attach one via WithMetrics; a nil Metrics disables instrumentation.
type Metrics struct {
	// StepsInFlight is the number of step handlers currently executing.
	StepsInFlight prometheus.Gauge

	// StepDuration observes handler wall time per journey/step/status.
	StepDuration *prometheus.HistogramVec

	// Retries counts handler-level retry attempts.
	Retries *prometheus.CounterVec

	// Fallbacks counts fallback strategy invocations.
	Fallbacks *prometheus.CounterVec

	// Errors counts classified step errors by code.
	Errors *prometheus.CounterVec

	// Runs counts finished runs by terminal status.
	Runs *prometheus.CounterVec
}

// NewMetrics registers the engine instruments with reg (pass
// prometheus.DefaultRegisterer for the default registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StepsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "journey",
			Name:      "steps_in_flight",
			Help:      "Number of step handlers currently executing.",
		}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "journey",
			Name:      "step_duration_seconds",
			Help:      "Step handler execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"journey", "step", "status"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journey",
			Name:      "step_retries_total",
			Help:      "Handler-level retry attempts.",
		}, []string{"journey", "step"}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journey",
			Name:      "fallbacks_total",
			Help:      "Fallback strategy invocations.",
		}, []string{"journey", "strategy"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journey",
			Name:      "step_errors_total",
			Help:      "Classified step errors.",
		}, []string{"journey", "code"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journey",
			Name:      "runs_total",
			Help:      "Finished runs by terminal status.",
		}, []string{"journey", "status"}),
	}
}
