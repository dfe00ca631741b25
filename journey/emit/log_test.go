package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func sampleEvent() Event {
	return Event{
		InstanceID: "9f2c",
		JourneyID:  "lead-qual",
		StepID:     "enrich",
		Kind:       KindStepComplete,
		At:         time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		Meta:       map[string]any{"duration_ms": 120},
	}
}

func TestLogEmitterText(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)
	e.Emit(sampleEvent())

	line := buf.String()
	for _, want := range []string{
		"[step:complete]",
		"instance=9f2c",
		"journey=lead-qual",
		"step=enrich",
		`meta={"duration_ms":120}`,
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "msg=") {
		t.Errorf("empty msg should be omitted: %q", line)
	}
}

func TestLogEmitterJSON(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)
	e.Emit(sampleEvent())

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if got["kind"] != "step:complete" || got["instanceId"] != "9f2c" || got["stepId"] != "enrich" {
		t.Errorf("got = %v", got)
	}
}

func TestLogEmitterConcurrent(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 25; j++ {
				e.Emit(sampleEvent())
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 100 {
		t.Fatalf("got %d lines, want 100", len(lines))
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Fatalf("interleaved write produced invalid JSON: %q", line)
		}
	}
}
