package journey

import (
	"context"
	"time"
)

// FallbackResult is a strategy's resolution of a failed step. Exactly one
// of the continue/fail/park outcomes applies:
//
//   - ShouldContinue: the run proceeds (node skipped, retried to success,
//     or redirected via NextStepID).
//   - ShouldFail: the run is failed.
//   - neither: the node is parked (manual review) awaiting external
//     resolution.
type FallbackResult struct {
	Success        bool             `json:"success"`
	Strategy       FallbackStrategy `json:"strategy"`
	ShouldContinue bool             `json:"shouldContinue,omitempty"`
	ShouldFail     bool             `json:"shouldFail,omitempty"`
	NextStepID     string           `json:"nextStepId,omitempty"`
	Result         *StepResult      `json:"result,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

// FallbackExecutor resolves failed steps. It is invoked exactly once per
// failed step, after handler-level retries are exhausted. Handler is the
// step's handler, re-invoked by the retry strategy (workflow-level retry,
// distinct from and composable with handler-level retry). Snapshot is the
// stepOutputs state recorded before the failed node started, restored by
// rollback.
type FallbackExecutor struct {
	Handler  StepHandler
	Snapshot map[string]any
}

// Execute applies one strategy to a failed step, mutating node and run
// status on the execution context as the strategy dictates.
func (f *FallbackExecutor) Execute(ctx context.Context, strategy FallbackStrategy, cfg FallbackConfig, step StepNode, ec *ExecutionContext, cause error) FallbackResult {
	res := FallbackResult{Strategy: strategy}

	switch strategy {
	case FallbackSkip:
		// The run proceeds as if the node produced no output.
		ec.Nodes[step.ID] = NodeSkipped
		res.Success = true
		res.ShouldContinue = true

	case FallbackRetry:
		res = f.retry(ctx, cfg, step, ec)

	case FallbackStep:
		if cfg.FallbackStepID == "" {
			res.Reason = "fallback_step strategy without fallbackStepId"
			return res
		}
		ec.Nodes[step.ID] = NodeSkipped
		res.Success = true
		res.ShouldContinue = true
		res.NextStepID = cfg.FallbackStepID

	case FallbackManualReview:
		ec.Nodes[step.ID] = NodePendingReview
		res.Success = true

	case FallbackFail:
		ec.Nodes[step.ID] = NodeFailed
		ec.Status = StatusFailed
		res.Success = true
		res.ShouldFail = true

	case FallbackRollback:
		// Revert stepOutputs to the pre-step snapshot, then degrade to
		// fail unless a retry sub-config is explicitly attached.
		restored := make(map[string]any, len(f.Snapshot))
		for k, v := range f.Snapshot {
			restored[k] = v
		}
		ec.Data.StepOutputs = restored

		if cfg.RetryAfterRollback {
			res = f.retry(ctx, cfg, step, ec)
			res.Strategy = FallbackRollback
			if res.Success {
				return res
			}
		}
		ec.Nodes[step.ID] = NodeFailed
		ec.Status = StatusFailed
		res = FallbackResult{Strategy: FallbackRollback, Success: true, ShouldFail: true}

	default:
		res.Reason = "unknown fallback strategy: " + string(strategy)
	}

	return res
}

// retry re-invokes the step handler up to cfg.MaxRetries additional
// times with cfg.RetryDelay between attempts. A zero MaxRetries
// attempts nothing and lets the chain move on.
func (f *FallbackExecutor) retry(ctx context.Context, cfg FallbackConfig, step StepNode, ec *ExecutionContext) FallbackResult {
	res := FallbackResult{Strategy: FallbackRetry}
	if f.Handler == nil {
		res.Reason = "no handler available for retry"
		return res
	}
	if cfg.MaxRetries <= 0 {
		res.Reason = "retry strategy with no retries configured"
		return res
	}

	for i := 0; i < cfg.MaxRetries; i++ {
		if i > 0 && cfg.RetryDelay > 0 {
			select {
			case <-time.After(cfg.RetryDelay):
			case <-ctx.Done():
				res.Reason = ctx.Err().Error()
				return res
			}
		}

		result, err := f.Handler.Execute(ctx, step, ec, ec.Data)
		if err == nil {
			result.StepID = step.ID
			if result.Status == "" {
				result.Status = NodeCompleted
			}
			res.Success = true
			res.ShouldContinue = true
			res.Result = &result
			return res
		}
		res.Reason = err.Error()
	}
	return res
}

// ExecuteChain tries each strategy in order, short-circuiting on the
// first that reports success. If no strategy resolves the step, the
// chain is exhausted: the run is failed and a FALLBACK_EXHAUSTED error
// is returned.
func (f *FallbackExecutor) ExecuteChain(ctx context.Context, chain FallbackChain, step StepNode, ec *ExecutionContext, cause error) (FallbackResult, error) {
	for _, strategy := range chain.Order {
		res := f.Execute(ctx, strategy, chain.ConfigFor(strategy), step, ec, cause)
		if res.Success {
			return res, nil
		}
	}

	ec.Nodes[step.ID] = NodeFailed
	ec.Status = StatusFailed
	return FallbackResult{ShouldFail: true},
		NewError(CodeFallbackExhausted, "no fallback strategy resolved step "+step.ID)
}

// DefaultFallbackChain derives a chain from the error classification:
// transient failures are worth a workflow-level retry before failing;
// non-retryable failures skip the node and fail only if skipping is not
// viable.
func DefaultFallbackChain(cause error) FallbackChain {
	c := ClassifyError(cause)
	if c.Retryable {
		return FallbackChain{
			Order: []FallbackStrategy{FallbackRetry, FallbackFail},
			Configs: map[FallbackStrategy]FallbackConfig{
				FallbackRetry: {Strategy: FallbackRetry, MaxRetries: 2, RetryDelay: time.Second},
			},
		}
	}
	return FallbackChain{
		Order: []FallbackStrategy{FallbackSkip, FallbackFail},
	}
}
