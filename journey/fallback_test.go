package journey

import (
	"context"
	"errors"
	"testing"
)

func reviewContext() *ExecutionContext {
	return &ExecutionContext{
		InstanceID: "inst-1",
		Status:     StatusRunning,
		Nodes:      map[string]NodeStatus{"enrich": NodeFailed},
		Data: ExecutionData{
			StepOutputs: map[string]any{"qualify": map[string]any{"score": 80}},
		},
	}
}

func TestExecuteFallback(t *testing.T) {
	step := StepNode{ID: "enrich", Type: "enrichment"}
	cause := errors.New("provider down")
	ctx := context.Background()

	t.Run("skip marks node skipped and continues", func(t *testing.T) {
		ec := reviewContext()
		exec := &FallbackExecutor{}
		res := exec.Execute(ctx, FallbackSkip, FallbackConfig{}, step, ec, cause)
		if !res.Success || !res.ShouldContinue {
			t.Errorf("res = %+v, want success+continue", res)
		}
		if ec.Nodes["enrich"] != NodeSkipped {
			t.Errorf("node status = %s, want skipped", ec.Nodes["enrich"])
		}
	})

	t.Run("fail marks run failed", func(t *testing.T) {
		ec := reviewContext()
		exec := &FallbackExecutor{}
		res := exec.Execute(ctx, FallbackFail, FallbackConfig{}, step, ec, cause)
		if !res.Success || !res.ShouldFail {
			t.Errorf("res = %+v, want success+fail", res)
		}
		if ec.Status != StatusFailed || ec.Nodes["enrich"] != NodeFailed {
			t.Errorf("status = %s, node = %s", ec.Status, ec.Nodes["enrich"])
		}
	})

	t.Run("retry re-invokes the handler", func(t *testing.T) {
		ec := reviewContext()
		calls := 0
		exec := &FallbackExecutor{
			Handler: HandlerFunc(func(ctx context.Context, s StepNode, ec *ExecutionContext, d ExecutionData) (StepResult, error) {
				calls++
				if calls < 2 {
					return StepResult{}, errors.New("still down")
				}
				return StepResult{Output: "recovered"}, nil
			}),
		}
		res := exec.Execute(ctx, FallbackRetry, FallbackConfig{MaxRetries: 3}, step, ec, cause)
		if !res.Success || !res.ShouldContinue || res.Result == nil {
			t.Fatalf("res = %+v, want recovered result", res)
		}
		if res.Result.Output != "recovered" || res.Result.Status != NodeCompleted {
			t.Errorf("result = %+v", res.Result)
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})

	t.Run("retry with zero max retries attempts nothing", func(t *testing.T) {
		ec := reviewContext()
		calls := 0
		exec := &FallbackExecutor{
			Handler: HandlerFunc(func(ctx context.Context, s StepNode, ec *ExecutionContext, d ExecutionData) (StepResult, error) {
				calls++
				return StepResult{Output: "recovered"}, nil
			}),
		}
		res := exec.Execute(ctx, FallbackRetry, FallbackConfig{}, step, ec, cause)
		if res.Success {
			t.Error("retry with MaxRetries 0 should not succeed")
		}
		if calls != 0 {
			t.Errorf("calls = %d, want 0", calls)
		}
	})

	t.Run("retry without handler fails", func(t *testing.T) {
		ec := reviewContext()
		exec := &FallbackExecutor{}
		res := exec.Execute(ctx, FallbackRetry, FallbackConfig{MaxRetries: 2}, step, ec, cause)
		if res.Success {
			t.Error("retry without handler should not succeed")
		}
	})

	t.Run("fallback_step redirects", func(t *testing.T) {
		ec := reviewContext()
		exec := &FallbackExecutor{}
		res := exec.Execute(ctx, FallbackStep, FallbackConfig{FallbackStepID: "manual-enrich"}, step, ec, cause)
		if !res.Success || res.NextStepID != "manual-enrich" {
			t.Errorf("res = %+v, want redirect to manual-enrich", res)
		}
		if ec.Nodes["enrich"] != NodeSkipped {
			t.Errorf("node status = %s, want skipped", ec.Nodes["enrich"])
		}
	})

	t.Run("fallback_step without target fails", func(t *testing.T) {
		ec := reviewContext()
		exec := &FallbackExecutor{}
		if res := exec.Execute(ctx, FallbackStep, FallbackConfig{}, step, ec, cause); res.Success {
			t.Error("missing fallbackStepId should not succeed")
		}
	})

	t.Run("manual_review parks the node", func(t *testing.T) {
		ec := reviewContext()
		exec := &FallbackExecutor{}
		res := exec.Execute(ctx, FallbackManualReview, FallbackConfig{}, step, ec, cause)
		if !res.Success || res.ShouldContinue || res.ShouldFail {
			t.Errorf("res = %+v, want parked", res)
		}
		if ec.Nodes["enrich"] != NodePendingReview {
			t.Errorf("node status = %s, want pending_review", ec.Nodes["enrich"])
		}
	})

	t.Run("rollback restores snapshot then fails", func(t *testing.T) {
		ec := reviewContext()
		ec.Data.StepOutputs["enrich"] = "partial"
		exec := &FallbackExecutor{Snapshot: map[string]any{"qualify": "original"}}
		res := exec.Execute(ctx, FallbackRollback, FallbackConfig{}, step, ec, cause)
		if !res.Success || !res.ShouldFail {
			t.Errorf("res = %+v, want fail after rollback", res)
		}
		if _, ok := ec.Data.StepOutputs["enrich"]; ok {
			t.Error("rollback should drop the failed step's partial output")
		}
		if ec.Data.StepOutputs["qualify"] != "original" {
			t.Errorf("snapshot not restored: %v", ec.Data.StepOutputs)
		}
	})

	t.Run("rollback with retry recovers", func(t *testing.T) {
		ec := reviewContext()
		exec := &FallbackExecutor{
			Snapshot: map[string]any{},
			Handler: HandlerFunc(func(ctx context.Context, s StepNode, ec *ExecutionContext, d ExecutionData) (StepResult, error) {
				return StepResult{Output: "second try"}, nil
			}),
		}
		res := exec.Execute(ctx, FallbackRollback, FallbackConfig{RetryAfterRollback: true, MaxRetries: 1}, step, ec, cause)
		if !res.Success || !res.ShouldContinue || res.Result == nil {
			t.Fatalf("res = %+v, want recovery", res)
		}
		if res.Strategy != FallbackRollback {
			t.Errorf("strategy = %s, want rollback", res.Strategy)
		}
	})
}

func TestExecuteFallbackChain(t *testing.T) {
	step := StepNode{ID: "enrich", Type: "enrichment"}
	cause := errors.New("provider down")
	ctx := context.Background()

	t.Run("short-circuits on first success", func(t *testing.T) {
		ec := reviewContext()
		exec := &FallbackExecutor{}
		chain := FallbackChain{Order: []FallbackStrategy{FallbackRetry, FallbackSkip, FallbackFail}}

		res, err := exec.ExecuteChain(ctx, chain, step, ec, cause)
		if err != nil {
			t.Fatalf("ExecuteChain: %v", err)
		}
		// Retry has no handler, so skip resolves first.
		if res.Strategy != FallbackSkip {
			t.Errorf("strategy = %s, want skip", res.Strategy)
		}
		if ec.Status == StatusFailed {
			t.Error("run should not be failed after a successful skip")
		}
	})

	t.Run("unconfigured retry moves the chain on", func(t *testing.T) {
		ec := reviewContext()
		exec := &FallbackExecutor{
			Handler: HandlerFunc(func(ctx context.Context, s StepNode, ec *ExecutionContext, d ExecutionData) (StepResult, error) {
				t.Error("handler invoked with MaxRetries 0")
				return StepResult{}, nil
			}),
		}
		chain := FallbackChain{Order: []FallbackStrategy{FallbackRetry, FallbackSkip}}

		res, err := exec.ExecuteChain(ctx, chain, step, ec, cause)
		if err != nil {
			t.Fatalf("ExecuteChain: %v", err)
		}
		if res.Strategy != FallbackSkip {
			t.Errorf("strategy = %s, want skip", res.Strategy)
		}
	})

	t.Run("exhausted chain fails the run", func(t *testing.T) {
		ec := reviewContext()
		exec := &FallbackExecutor{}
		chain := FallbackChain{Order: []FallbackStrategy{FallbackRetry, FallbackStep}}

		_, err := exec.ExecuteChain(ctx, chain, step, ec, cause)
		var je *JourneyError
		if !errors.As(err, &je) || je.Code != CodeFallbackExhausted {
			t.Fatalf("err = %v, want FALLBACK_EXHAUSTED", err)
		}
		if ec.Status != StatusFailed {
			t.Errorf("status = %s, want failed", ec.Status)
		}
	})
}

func TestDefaultFallbackChain(t *testing.T) {
	t.Run("retryable cause retries first", func(t *testing.T) {
		chain := DefaultFallbackChain(NewError(CodeTimeout, "slow"))
		if len(chain.Order) != 2 || chain.Order[0] != FallbackRetry || chain.Order[1] != FallbackFail {
			t.Errorf("order = %v", chain.Order)
		}
	})

	t.Run("non-retryable cause skips first", func(t *testing.T) {
		chain := DefaultFallbackChain(NewError(CodeNoHandler, "missing"))
		if len(chain.Order) != 2 || chain.Order[0] != FallbackSkip || chain.Order[1] != FallbackFail {
			t.Errorf("order = %v", chain.Order)
		}
	})
}
