package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogEmitter writes events to a writer in either human-readable text or
// JSONL form.
//
// Text:
//
//	[step:complete] instance=9f2c journey=lead-qual step=enrich meta={"duration_ms":120}
//
// JSONL:
//
//	{"instanceId":"9f2c","journeyId":"lead-qual","stepId":"enrich","kind":"step:complete","msg":"","at":"..."}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer defaults to stdout.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{writer: w, jsonMode: jsonMode}
}

// Emit writes one event.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		InstanceID string         `json:"instanceId"`
		JourneyID  string         `json:"journeyId"`
		StepID     string         `json:"stepId,omitempty"`
		Kind       Kind           `json:"kind"`
		Msg        string         `json:"msg,omitempty"`
		At         time.Time      `json:"at"`
		Meta       map[string]any `json:"meta,omitempty"`
	}{event.InstanceID, event.JourneyID, event.StepID, event.Kind, event.Msg, event.At, event.Meta})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] instance=%s journey=%s", event.Kind, event.InstanceID, event.JourneyID)
	if event.StepID != "" {
		fmt.Fprintf(l.writer, " step=%s", event.StepID)
	}
	if event.Msg != "" {
		fmt.Fprintf(l.writer, " msg=%q", event.Msg)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
