package journey

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPreconditionChecker(t *testing.T) {
	step := StepNode{ID: "send", Type: "action"}
	ec := &ExecutionContext{
		Nodes: map[string]NodeStatus{
			"qualify": NodeCompleted,
			"enrich":  NodeFailed,
		},
	}
	bag := map[string]any{
		"input": map[string]any{"tier": "gold"},
	}

	t.Run("field check", func(t *testing.T) {
		pc := NewPreconditionChecker(nil)
		res := pc.Check([]Precondition{FieldCheck("input.tier", OpEquals, "gold")}, step, ec, bag)
		if !res[0].Passed {
			t.Errorf("field check failed: %s", res[0].Reason)
		}
	})

	t.Run("step completed", func(t *testing.T) {
		pc := NewPreconditionChecker(nil)
		res := pc.Check([]Precondition{StepCompleted("qualify"), StepCompleted("enrich")}, step, ec, bag)
		if !res[0].Passed {
			t.Errorf("completed step should pass: %s", res[0].Reason)
		}
		if res[1].Passed {
			t.Error("failed step should not pass step_completed")
		}
		if AllPreconditionsPass(res) {
			t.Error("mixed results should not all pass")
		}
	})

	t.Run("time window", func(t *testing.T) {
		pc := NewPreconditionChecker(nil)
		// A Tuesday at 14:00.
		pc.Clock = fixedClock(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))

		tests := []struct {
			name string
			p    Precondition
			want bool
		}{
			{"inside hours", TimeWindow(9, 17), true},
			{"outside hours", TimeWindow(18, 22), false},
			{"wraps midnight inside", TimeWindow(22, 15), true},
			{"wraps midnight outside", TimeWindow(22, 6), false},
			{"allowed weekday", TimeWindow(9, 17, time.Tuesday), true},
			{"disallowed weekday", TimeWindow(9, 17, time.Saturday, time.Sunday), false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				res := pc.checkOne(tt.p, step, ec, bag)
				if res.Passed != tt.want {
					t.Errorf("passed = %v, want %v (%s)", res.Passed, tt.want, res.Reason)
				}
			})
		}
	})

	t.Run("rate limit", func(t *testing.T) {
		pc := NewPreconditionChecker(nil)
		pc.Clock = fixedClock(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
		p := RateLimit("outbound", 2, time.Hour)

		for i := 0; i < 2; i++ {
			if res := pc.checkOne(p, step, ec, bag); !res.Passed {
				t.Fatalf("execution %d should be within budget: %s", i+1, res.Reason)
			}
		}
		if res := pc.checkOne(p, step, ec, bag); res.Passed {
			t.Error("third execution should exceed the budget")
		}

		// Next bucket resets the budget.
		pc.Clock = fixedClock(time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC))
		if res := pc.checkOne(p, step, ec, bag); !res.Passed {
			t.Errorf("new window should reset: %s", res.Reason)
		}
	})

	t.Run("rate limit without ID keys by step", func(t *testing.T) {
		pc := NewPreconditionChecker(nil)
		p := Precondition{Type: PrecondRateLimit, RateLimit: &RateLimitConfig{MaxExecutions: 1, Window: time.Hour}}

		if res := pc.checkOne(p, step, ec, bag); !res.Passed {
			t.Fatalf("first execution should pass: %s", res.Reason)
		}
		other := StepNode{ID: "other", Type: "action"}
		if res := pc.checkOne(p, other, ec, bag); !res.Passed {
			t.Error("distinct steps should not share an anonymous budget")
		}
	})

	t.Run("feature flag", func(t *testing.T) {
		flags := FlagResolverFunc(func(name string) bool { return name == "beta" })
		pc := NewPreconditionChecker(flags)

		if res := pc.checkOne(FeatureFlag("beta"), step, ec, bag); !res.Passed {
			t.Errorf("enabled flag should pass: %s", res.Reason)
		}
		if res := pc.checkOne(FeatureFlag("gamma"), step, ec, bag); res.Passed {
			t.Error("disabled flag should fail")
		}
	})

	t.Run("feature flag fails closed without resolver", func(t *testing.T) {
		pc := NewPreconditionChecker(nil)
		if res := pc.checkOne(FeatureFlag("beta"), step, ec, bag); res.Passed {
			t.Error("missing resolver must fail closed")
		}
	})

	t.Run("empty list passes vacuously", func(t *testing.T) {
		if !AllPreconditionsPass(nil) {
			t.Error("empty result list should pass")
		}
	})
}
