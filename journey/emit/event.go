// Package emit defines the observability event contract for the journey
// engine and ships log, null, and OpenTelemetry emitters.
package emit

import "time"

// Kind classifies an engine event.
type Kind string

// Event kinds emitted by the engine.
const (
	KindRunStart      Kind = "run:start"
	KindRunComplete   Kind = "run:complete"
	KindRunFailed     Kind = "run:failed"
	KindRunPaused     Kind = "run:paused"
	KindRunCancelled  Kind = "run:cancelled"
	KindStepStart     Kind = "step:start"
	KindStepComplete  Kind = "step:complete"
	KindStepFailed    Kind = "step:failed"
	KindStepSkipped   Kind = "step:skipped"
	KindStepReview    Kind = "step:pending_review"
	KindTransition    Kind = "transition:take"
	KindFallback      Kind = "fallback:trigger"
	KindCheckpoint    Kind = "checkpoint:saved"
	KindErrorOccurred Kind = "error:occur"
)

// Event is one observability event from a running journey. Events are
// UI/ops-facing; they never affect execution.
type Event struct {
	// InstanceID identifies the run that emitted this event.
	InstanceID string

	// JourneyID identifies the journey definition.
	JourneyID string

	// StepID identifies the step, empty for run-level events.
	StepID string

	// Kind classifies the event.
	Kind Kind

	// Msg is a human-readable description.
	Msg string

	// At is the emission time.
	At time.Time

	// Meta carries event-specific structured data. Common keys:
	// "duration_ms", "error", "strategy", "transition_id", "attempt".
	Meta map[string]any
}

// Emitter receives engine events. Implementations must be safe for
// concurrent use; the engine may emit from multiple step goroutines.
type Emitter interface {
	Emit(event Event)
}
