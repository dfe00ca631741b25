package journey

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.StepsInFlight.Inc()
	m.StepDuration.WithLabelValues("sales", "qualify", "completed").Observe(0.12)
	m.Retries.WithLabelValues("sales", "qualify").Inc()
	m.Fallbacks.WithLabelValues("sales", "skip").Inc()
	m.Errors.WithLabelValues("sales", "TIMEOUT").Inc()
	m.Runs.WithLabelValues("sales", "completed").Inc()

	if got := testutil.ToFloat64(m.StepsInFlight); got != 1 {
		t.Errorf("steps_in_flight = %v", got)
	}
	if got := testutil.ToFloat64(m.Retries.WithLabelValues("sales", "qualify")); got != 1 {
		t.Errorf("retries = %v", got)
	}
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("sales", "completed")); got != 1 {
		t.Errorf("runs = %v", got)
	}

	// Registering a second set on the same registry must panic via
	// promauto's duplicate detection.
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	NewMetrics(reg)
}
