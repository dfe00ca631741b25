package journey

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"journey error is authoritative", NewError(CodeGraphInvalid, "bad graph"), CodeGraphInvalid, false},
		{"no handler never retried", NewError(CodeNoHandler, "missing"), CodeNoHandler, false},
		{"timeout retryable", NewError(CodeTimeout, "too slow"), CodeTimeout, true},
		{"wrapped journey error", fmt.Errorf("dispatch: %w", NewError(CodeTimeout, "slow")), CodeTimeout, true},
		{"network wording is transient", errors.New("connection refused"), CodeExecutionFailed, true},
		{"deadline wording maps to timeout", errors.New("context deadline exceeded"), CodeTimeout, true},
		{"unknown defaults to execution failed", errors.New("boom"), CodeExecutionFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyError(tt.err)
			if c.Code != tt.code {
				t.Errorf("code = %s, want %s", c.Code, tt.code)
			}
			if c.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", c.Retryable, tt.retryable)
			}
		})
	}
}

func TestErrorStats(t *testing.T) {
	s := newErrorStats()
	s.record(Classification{Code: CodeTimeout, Severity: SeverityMedium, Retryable: true})
	s.record(Classification{Code: CodeTimeout, Severity: SeverityMedium, Retryable: true})
	s.record(Classification{Code: CodeDeadEnd, Severity: SeverityHigh})

	snap := s.snapshot()
	if snap.Total != 3 {
		t.Errorf("total = %d, want 3", snap.Total)
	}
	if snap.ByCode[CodeTimeout] != 2 {
		t.Errorf("timeout count = %d, want 2", snap.ByCode[CodeTimeout])
	}
	if snap.BySeverity[string(SeverityHigh)] != 1 {
		t.Errorf("high count = %d, want 1", snap.BySeverity[string(SeverityHigh)])
	}

	// Snapshots are copies.
	snap.ByCode[CodeTimeout] = 99
	if s.snapshot().ByCode[CodeTimeout] != 2 {
		t.Error("snapshot mutation leaked into the accumulator")
	}
}

func TestJourneyErrorUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := &JourneyError{Code: CodeExecutionFailed, Message: "wrapped", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see the cause")
	}
}
