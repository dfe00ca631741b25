package journey

import (
	"errors"
	"strings"
	"sync"
)

// Error codes in the engine taxonomy.
const (
	// CodeGraphInvalid is a fatal, construction-time error: the definition
	// has zero or multiple start nodes, references unknown steps, or has
	// outgoing edges from an end node.
	CodeGraphInvalid = "GRAPH_INVALID"

	// CodeNoHandler is fatal for a node: no handler is registered for its
	// step type. Never retried.
	CodeNoHandler = "NO_HANDLER"

	// CodeTimeout marks a step that exceeded its execution deadline.
	// Retryable.
	CodeTimeout = "TIMEOUT"

	// CodeExecutionFailed is the default classification for unrecognized
	// handler errors. Retryable.
	CodeExecutionFailed = "EXECUTION_FAILED"

	// CodeDeadEnd is fatal: no transition fired from a completed node that
	// is not an end node.
	CodeDeadEnd = "DEAD_END"

	// CodePreconditionFailed blocks a transition from firing. Not an
	// error: the run continues via other paths or stalls.
	CodePreconditionFailed = "PRECONDITION_FAILED"

	// CodeFallbackExhausted is fatal: no strategy in the fallback chain
	// reported success.
	CodeFallbackExhausted = "FALLBACK_EXHAUSTED"
)

// Severity buckets errors for statistics and fallback selection.
type Severity string

// Severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// JourneyError is the engine's first-class error type. It carries a
// machine-readable code, optional details, and an explicit retryability
// flag that short-circuits heuristic classification.
type JourneyError struct {
	Code      string
	Message   string
	Details   map[string]any
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *JourneyError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *JourneyError) Unwrap() error { return e.Cause }

// NewError builds a JourneyError with the given code and message.
func NewError(code, message string) *JourneyError {
	return &JourneyError{Code: code, Message: message, Retryable: retryableByCode(code)}
}

func retryableByCode(code string) bool {
	switch code {
	case CodeTimeout, CodeExecutionFailed:
		return true
	default:
		return false
	}
}

// Classification is the result of classifying an error into the engine
// taxonomy.
type Classification struct {
	Code      string
	Severity  Severity
	Retryable bool
}

// transientHints are substrings whose presence in a plain error message
// implies a transient infrastructure failure.
var transientHints = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"network",
	"connection",
	"temporarily",
	"temporary",
	"unavailable",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
}

// ClassifyError maps an error into the engine taxonomy.
//
// A JourneyError is authoritative: its code and retryable flag are used
// as-is. Plain errors are classified heuristically: messages implying
// network or timeout trouble are retryable with medium severity; anything
// else defaults to EXECUTION_FAILED, retryable, medium.
func ClassifyError(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var je *JourneyError
	if errors.As(err, &je) {
		sev := SeverityMedium
		switch je.Code {
		case CodeGraphInvalid, CodeNoHandler, CodeDeadEnd, CodeFallbackExhausted:
			sev = SeverityCritical
		case CodePreconditionFailed:
			sev = SeverityLow
		}
		return Classification{Code: je.Code, Severity: sev, Retryable: je.Retryable}
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			code := CodeExecutionFailed
			if strings.Contains(hint, "time") || strings.Contains(hint, "deadline") {
				code = CodeTimeout
			}
			return Classification{Code: code, Severity: SeverityMedium, Retryable: true}
		}
	}

	return Classification{Code: CodeExecutionFailed, Severity: SeverityMedium, Retryable: true}
}

// ErrorStats accumulates error counts observed over an engine's lifetime.
// Stats are owned by the engine instance, never package-global, so
// concurrent engines remain independently testable.
type ErrorStats struct {
	Total      int64            `json:"total"`
	ByCode     map[string]int64 `json:"byCode"`
	BySeverity map[string]int64 `json:"bySeverity"`
}

// errorStats is the mutex-guarded accumulator behind Engine.ErrorStats.
type errorStats struct {
	mu         sync.Mutex
	total      int64
	byCode     map[string]int64
	bySeverity map[string]int64
}

func newErrorStats() *errorStats {
	return &errorStats{
		byCode:     make(map[string]int64),
		bySeverity: make(map[string]int64),
	}
}

func (s *errorStats) record(c Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.byCode[c.Code]++
	s.bySeverity[string(c.Severity)]++
}

// snapshot returns a copy safe to hand to callers.
func (s *errorStats) snapshot() ErrorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := ErrorStats{
		Total:      s.total,
		ByCode:     make(map[string]int64, len(s.byCode)),
		BySeverity: make(map[string]int64, len(s.bySeverity)),
	}
	for k, v := range s.byCode {
		out.ByCode[k] = v
	}
	for k, v := range s.bySeverity {
		out.BySeverity[k] = v
	}
	return out
}
