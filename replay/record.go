// Package replay reconstructs completed journey runs for debugging: a
// deterministic event timeline with summary statistics, context diffs
// between step boundaries, and a speed-scaled playback runner. Nothing
// in this package touches a live engine; it operates on immutable run
// records.
package replay

import (
	"time"

	"github.com/prospectiq/journey-go/journey"
)

// RunRecord is the full recorded history of one journey run, as captured
// by the persistence layer during the original execution. The replay
// engine never mutates a record.
type RunRecord struct {
	RunID       string    `json:"runId"`
	JourneyID   string    `json:"journeyId"`
	TenantID    string    `json:"tenantId,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Status      string    `json:"status"`

	Steps       []RecordedStep    `json:"steps,omitempty"`
	AILogs      []AILogEntry      `json:"aiLogs,omitempty"`
	Snapshots   []ContextSnapshot `json:"snapshots,omitempty"`
	Transitions []TransitionEval  `json:"transitions,omitempty"`
	Errors      []RecordedError   `json:"errors,omitempty"`
	Checkpoints []CheckpointEntry `json:"checkpoints,omitempty"`
}

// RecordedStep is one executed step. ExecutionOrder is the authoritative
// logical ordering; wall-clock timestamps may race under concurrent
// execution and are used only for offsets.
type RecordedStep struct {
	StepID         string    `json:"stepId"`
	Label          string    `json:"label,omitempty"`
	Status         string    `json:"status"`
	ExecutionOrder int       `json:"executionOrder"`
	StartedAt      time.Time `json:"startedAt"`
	CompletedAt    time.Time `json:"completedAt"`
	DurationMS     int64     `json:"durationMs"`
	Output         any       `json:"output,omitempty"`

	// FallbackStrategy is set when the step was resolved by a fallback.
	FallbackStrategy string `json:"fallbackStrategy,omitempty"`
}

// AILogEntry is one model exchange performed during the run.
type AILogEntry struct {
	StepID          string    `json:"stepId"`
	Prompt          string    `json:"prompt"`
	Response        string    `json:"response"`
	Model           string    `json:"model"`
	InputTokens     int       `json:"inputTokens"`
	OutputTokens    int       `json:"outputTokens"`
	CostUSD         float64   `json:"costUsd"`
	SelectedOutcome string    `json:"selectedOutcome,omitempty"`
	At              time.Time `json:"at"`
}

// ContextSnapshot is the data bag captured at a step boundary.
type ContextSnapshot struct {
	StepID              string         `json:"stepId"`
	Context             map[string]any `json:"context"`
	ChangesFromPrevious []DiffEntry    `json:"changesFromPrevious,omitempty"`
	At                  time.Time      `json:"at"`
}

// TransitionEval is one recorded transition condition evaluation.
type TransitionEval struct {
	TransitionID string    `json:"transitionId"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Taken        bool      `json:"taken"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// RecordedError is one classified error observed during the run.
type RecordedError struct {
	StepID  string    `json:"stepId,omitempty"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// CheckpointEntry marks one persisted checkpoint.
type CheckpointEntry struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// FromInstance derives a RunRecord from a persisted journey instance.
// Execution order follows history order; steps with multiple history
// entries (workflow retries) keep the last result.
func FromInstance(inst *journey.JourneyInstance) *RunRecord {
	rec := &RunRecord{
		RunID:       inst.InstanceID,
		JourneyID:   inst.JourneyID,
		TenantID:    inst.TenantID,
		StartedAt:   inst.CreatedAt,
		CompletedAt: inst.UpdatedAt,
		Status:      string(inst.Status),
	}

	order := 0
	seen := make(map[string]int)
	for _, h := range inst.History {
		if h.Error != "" {
			rec.Errors = append(rec.Errors, RecordedError{
				StepID:  h.StepID,
				Code:    string(journey.CodeExecutionFailed),
				Message: h.Error,
				At:      h.At,
			})
			continue
		}
		if h.Result == nil {
			continue
		}

		step := RecordedStep{
			StepID:         h.StepID,
			Status:         string(h.Result.Status),
			ExecutionOrder: order,
			StartedAt:      h.Result.StartedAt,
			CompletedAt:    h.Result.CompletedAt,
			DurationMS:     h.Result.DurationMS,
			Output:         h.Result.Output,
		}
		if idx, dup := seen[h.StepID]; dup {
			step.ExecutionOrder = rec.Steps[idx].ExecutionOrder
			rec.Steps[idx] = step
		} else {
			seen[h.StepID] = len(rec.Steps)
			rec.Steps = append(rec.Steps, step)
			order++
		}

		if h.Result.AILog != nil {
			l := h.Result.AILog
			rec.AILogs = append(rec.AILogs, AILogEntry{
				StepID:          h.StepID,
				Prompt:          l.Prompt,
				Response:        l.Response,
				Model:           l.Model,
				InputTokens:     l.InputTokens,
				OutputTokens:    l.OutputTokens,
				CostUSD:         l.CostUSD,
				SelectedOutcome: l.SelectedOutcome,
				At:              h.Result.CompletedAt,
			})
		}
	}
	return rec
}
