package emit

import (
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTelEmitterSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	e := NewOTelEmitter(tp.Tracer("journey-test"))

	e.Emit(Event{
		InstanceID: "9f2c",
		JourneyID:  "lead-qual",
		StepID:     "enrich",
		Kind:       KindStepComplete,
		At:         time.Now(),
		Meta:       map[string]any{"duration_ms": int64(120)},
	})
	e.Emit(Event{
		InstanceID: "9f2c",
		JourneyID:  "lead-qual",
		StepID:     "enrich",
		Kind:       KindStepFailed,
		Meta:       map[string]any{"error": "upstream refused"},
	})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	ok := spans[0]
	if ok.Name() != "step:complete" {
		t.Errorf("name = %q", ok.Name())
	}
	attrs := make(map[string]any)
	for _, kv := range ok.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["journey.instance_id"] != "9f2c" || attrs["journey.step_id"] != "enrich" {
		t.Errorf("attrs = %v", attrs)
	}
	if attrs["journey.duration_ms"] != int64(120) {
		t.Errorf("duration attr = %v", attrs["journey.duration_ms"])
	}

	failed := spans[1]
	if failed.Status().Description != "upstream refused" {
		t.Errorf("status = %+v", failed.Status())
	}
	if len(failed.Events()) == 0 {
		t.Error("error event not recorded on span")
	}
}
