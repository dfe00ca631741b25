package replay

import (
	"errors"
	"sort"
	"time"
)

// EventType tags a timeline event.
type EventType string

// Timeline event types.
const (
	EvJourneyStart    EventType = "journey:start"
	EvJourneyComplete EventType = "journey:complete"
	EvStepStart       EventType = "step:start"
	EvStepComplete    EventType = "step:complete"
	EvStepSkip        EventType = "step:skip"
	EvStepFail        EventType = "step:fail"
	EvAIPrompt        EventType = "ai:prompt"
	EvAIResponse      EventType = "ai:response"
	EvAIDecision      EventType = "ai:decision"
	EvTransitionEval  EventType = "transition:evaluate"
	EvTransitionTake  EventType = "transition:take"
	EvFallbackTrigger EventType = "fallback:trigger"
	EvErrorOccur      EventType = "error:occur"
)

// Event is one entry of a built timeline. Timestamp is the millisecond
// offset from the run start.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"`
	StepID    string         `json:"stepId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Timeline is the ordered event sequence of one recorded run.
type Timeline struct {
	RunID           string  `json:"runId"`
	JourneyID       string  `json:"journeyId"`
	Events          []Event `json:"events"`
	TotalDurationMS int64   `json:"totalDurationMs"`
}

// Summary aggregates a run record and its timeline into the statistics
// the debugging UI displays. Purely derived; no I/O.
type Summary struct {
	RunID           string         `json:"runId"`
	Status          string         `json:"status"`
	TotalDurationMS int64          `json:"totalDurationMs"`
	TotalSteps      int            `json:"totalSteps"`
	StepsByStatus   map[string]int `json:"stepsByStatus"`
	AICalls         int            `json:"aiCalls"`
	TotalTokens     int            `json:"totalTokens"`
	TotalCostUSD    float64        `json:"totalCostUsd"`
	ModelsUsed      []string       `json:"modelsUsed"`
	DecisionPoints  int            `json:"decisionPoints"`
	BranchesTaken   int            `json:"branchesTaken"`
	Errors          int            `json:"errors"`
}

// BuildTimeline deterministically builds the event timeline of a run
// record. Steps are ordered by ExecutionOrder; each contributes a
// step:start plus exactly one terminal event. AI logs contribute
// prompt/response (and decision when an outcome was selected).
// Transition evaluations contribute evaluate (and take when taken).
// The run is bracketed by journey:start at offset 0 and
// journey:complete at the total duration. The final sort is stable, so
// equal timestamps preserve emission order. The input record is never
// mutated.
func BuildTimeline(rec *RunRecord) (*Timeline, error) {
	if rec == nil {
		return nil, errors.New("nil run record")
	}
	if rec.StartedAt.IsZero() {
		return nil, errors.New("run record has no start time")
	}

	offset := func(t time.Time) int64 {
		if t.IsZero() || t.Before(rec.StartedAt) {
			return 0
		}
		return t.Sub(rec.StartedAt).Milliseconds()
	}

	steps := make([]RecordedStep, len(rec.Steps))
	copy(steps, rec.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].ExecutionOrder < steps[j].ExecutionOrder
	})

	var events []Event
	for _, s := range steps {
		start := offset(s.StartedAt)
		end := offset(s.CompletedAt)
		if end < start {
			end = start
		}

		events = append(events, Event{
			Type:      EvStepStart,
			Timestamp: start,
			StepID:    s.StepID,
			Payload:   map[string]any{"label": s.Label, "executionOrder": s.ExecutionOrder},
		})

		if s.FallbackStrategy != "" {
			events = append(events, Event{
				Type:      EvFallbackTrigger,
				Timestamp: end,
				StepID:    s.StepID,
				Payload:   map[string]any{"strategy": s.FallbackStrategy},
			})
		}

		terminal := EvStepComplete
		switch s.Status {
		case "skipped":
			terminal = EvStepSkip
		case "failed":
			terminal = EvStepFail
		}
		events = append(events, Event{
			Type:      terminal,
			Timestamp: end,
			StepID:    s.StepID,
			Payload:   map[string]any{"durationMs": s.DurationMS, "status": s.Status},
		})
	}

	for _, l := range rec.AILogs {
		at := offset(l.At)
		events = append(events, Event{
			Type:      EvAIPrompt,
			Timestamp: at,
			StepID:    l.StepID,
			Payload:   map[string]any{"prompt": l.Prompt, "model": l.Model},
		})
		events = append(events, Event{
			Type:      EvAIResponse,
			Timestamp: at,
			StepID:    l.StepID,
			Payload: map[string]any{
				"response":     l.Response,
				"model":        l.Model,
				"inputTokens":  l.InputTokens,
				"outputTokens": l.OutputTokens,
				"costUsd":      l.CostUSD,
			},
		})
		if l.SelectedOutcome != "" {
			events = append(events, Event{
				Type:      EvAIDecision,
				Timestamp: at,
				StepID:    l.StepID,
				Payload:   map[string]any{"outcome": l.SelectedOutcome},
			})
		}
	}

	for _, t := range rec.Transitions {
		at := offset(t.At)
		events = append(events, Event{
			Type:      EvTransitionEval,
			Timestamp: at,
			StepID:    t.From,
			Payload:   map[string]any{"transitionId": t.TransitionID, "to": t.To, "taken": t.Taken},
		})
		if t.Taken {
			events = append(events, Event{
				Type:      EvTransitionTake,
				Timestamp: at,
				StepID:    t.From,
				Payload:   map[string]any{"transitionId": t.TransitionID, "to": t.To},
			})
		}
	}

	for _, e := range rec.Errors {
		events = append(events, Event{
			Type:      EvErrorOccur,
			Timestamp: offset(e.At),
			StepID:    e.StepID,
			Payload:   map[string]any{"code": e.Code, "message": e.Message},
		})
	}

	total := offset(rec.CompletedAt)
	for _, e := range events {
		if e.Timestamp > total {
			total = e.Timestamp
		}
	}

	events = append([]Event{{
		Type:      EvJourneyStart,
		Timestamp: 0,
		Payload:   map[string]any{"journeyId": rec.JourneyID, "runId": rec.RunID},
	}}, events...)
	events = append(events, Event{
		Type:      EvJourneyComplete,
		Timestamp: total,
		Payload:   map[string]any{"status": rec.Status},
	})

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})

	return &Timeline{
		RunID:           rec.RunID,
		JourneyID:       rec.JourneyID,
		Events:          events,
		TotalDurationMS: total,
	}, nil
}

// BuildSummary aggregates the record and its timeline.
func BuildSummary(rec *RunRecord, tl *Timeline) *Summary {
	s := &Summary{
		RunID:           rec.RunID,
		Status:          rec.Status,
		TotalDurationMS: tl.TotalDurationMS,
		TotalSteps:      len(rec.Steps),
		StepsByStatus:   make(map[string]int),
		Errors:          len(rec.Errors),
	}

	for _, step := range rec.Steps {
		s.StepsByStatus[step.Status]++
	}

	models := make(map[string]bool)
	for _, l := range rec.AILogs {
		s.AICalls++
		s.TotalTokens += l.InputTokens + l.OutputTokens
		s.TotalCostUSD += l.CostUSD
		if l.Model != "" && !models[l.Model] {
			models[l.Model] = true
			s.ModelsUsed = append(s.ModelsUsed, l.Model)
		}
		if l.SelectedOutcome != "" {
			s.DecisionPoints++
		}
	}
	sort.Strings(s.ModelsUsed)

	for _, t := range rec.Transitions {
		if t.Taken {
			s.BranchesTaken++
		}
	}
	return s
}

// RunReplay is the one-shot, non-interactive build + summarize.
func RunReplay(rec *RunRecord) (*Timeline, *Summary, error) {
	tl, err := BuildTimeline(rec)
	if err != nil {
		return nil, nil, err
	}
	return tl, BuildSummary(rec, tl), nil
}
