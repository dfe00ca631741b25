package journey

import (
	"context"
	"errors"
	"testing"

	"github.com/prospectiq/journey-go/journey/model"
)

func TestAIHandler(t *testing.T) {
	ctx := context.Background()
	ec := &ExecutionContext{}
	data := ExecutionData{
		Input: map[string]any{"company": "Acme"},
		StepOutputs: map[string]any{
			"research": map[string]any{"summary": "strong fit"},
		},
	}

	t.Run("renders template and captures AI log", func(t *testing.T) {
		mock := &model.Mock{Responses: []string{"Looks promising."}, TokensPerCall: 10}
		h := AIHandler(mock, "Evaluate ${input.company}: ${steps.research.summary}")

		res, err := h.Execute(ctx, StepNode{ID: "evaluate", Type: "ai"}, ec, data)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}

		reqs := mock.Requests()
		if len(reqs) != 1 || reqs[0].Prompt != "Evaluate Acme: strong fit" {
			t.Errorf("prompt = %q", reqs[0].Prompt)
		}
		if res.AILog == nil || res.AILog.Response != "Looks promising." {
			t.Fatalf("ai log = %+v", res.AILog)
		}
		if res.AILog.InputTokens != 10 || res.AILog.OutputTokens != 10 {
			t.Errorf("token usage = %d/%d", res.AILog.InputTokens, res.AILog.OutputTokens)
		}
		out := res.Output.(map[string]any)
		if out["text"] != "Looks promising." {
			t.Errorf("output text = %v", out["text"])
		}
	})

	t.Run("step config overrides prompt and request knobs", func(t *testing.T) {
		mock := &model.Mock{Responses: []string{"ok"}}
		h := AIHandler(mock, "unused default")

		step := StepNode{ID: "evaluate", Type: "ai", Config: map[string]any{
			"prompt":      "Score ${input.company}",
			"system":      "You score leads.",
			"maxTokens":   float64(256),
			"temperature": 0.2,
		}}
		if _, err := h.Execute(ctx, step, ec, data); err != nil {
			t.Fatalf("Execute: %v", err)
		}

		req := mock.Requests()[0]
		if req.Prompt != "Score Acme" || req.System != "You score leads." {
			t.Errorf("request = %+v", req)
		}
		if req.MaxTokens != 256 || req.Temperature != 0.2 {
			t.Errorf("knobs = %d/%v", req.MaxTokens, req.Temperature)
		}
	})

	t.Run("decision mode selects an outcome", func(t *testing.T) {
		mock := &model.Mock{Responses: []string{"I recommend we QUALIFY this lead."}}
		h := AIHandler(mock, "Decide for ${input.company}")

		step := StepNode{ID: "decide", Type: "ai", Config: map[string]any{
			"outcomes": []any{"qualify", "reject"},
		}}
		res, err := h.Execute(ctx, step, ec, data)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if res.AILog.SelectedOutcome != "qualify" {
			t.Errorf("outcome = %q, want qualify", res.AILog.SelectedOutcome)
		}
		out := res.Output.(map[string]any)
		if out["outcome"] != "qualify" {
			t.Errorf("output outcome = %v", out["outcome"])
		}
	})

	t.Run("model error propagates", func(t *testing.T) {
		mock := &model.Mock{Err: errors.New("quota exceeded")}
		h := AIHandler(mock, "hi")
		if _, err := h.Execute(ctx, StepNode{ID: "x", Type: "ai"}, ec, data); err == nil {
			t.Error("expected model error")
		}
	})
}
