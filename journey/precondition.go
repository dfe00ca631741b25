package journey

import (
	"fmt"
	"sync"
	"time"
)

// PreconditionType tags the variants of the Precondition union.
type PreconditionType string

// Precondition types.
const (
	PrecondFieldCheck    PreconditionType = "field_check"
	PrecondStepCompleted PreconditionType = "step_completed"
	PrecondTimeWindow    PreconditionType = "time_window"
	PrecondRateLimit     PreconditionType = "rate_limit"
	PrecondFeatureFlag   PreconditionType = "feature_flag"
)

// TimeWindowConfig gates a transition to wall-clock hours [StartHour,
// EndHour) and, optionally, specific weekdays. Windows wrapping midnight
// (StartHour > EndHour) are supported.
type TimeWindowConfig struct {
	StartHour  int            `json:"startHour"`
	EndHour    int            `json:"endHour"`
	DaysOfWeek []time.Weekday `json:"daysOfWeek,omitempty"`
}

// RateLimitConfig caps how many times the owning precondition may pass
// within a rolling bucket. Bucket boundaries are floor(now / Window).
type RateLimitConfig struct {
	MaxExecutions int           `json:"maxExecutions"`
	Window        time.Duration `json:"window"`
}

// Precondition is a guard evaluated before a transition may fire,
// independent of the transition's own condition. It reads the execution
// context and data; it never mutates state. A failing precondition
// blocks the transition but is not an error.
//
// Time-window and rate-limit guards evaluate against live wall-clock
// time and are excluded from replay determinism guarantees.
type Precondition struct {
	ID   string           `json:"id"`
	Type PreconditionType `json:"type"`

	FieldCheck *FieldCondition   `json:"fieldCheck,omitempty"`
	StepID     string            `json:"stepId,omitempty"`
	TimeWindow *TimeWindowConfig `json:"timeWindow,omitempty"`
	RateLimit  *RateLimitConfig  `json:"rateLimit,omitempty"`
	Flag       string            `json:"flag,omitempty"`
}

// FieldCheck builds a field_check precondition using the condition
// operator set.
func FieldCheck(field string, op Operator, value any) Precondition {
	return Precondition{
		Type:       PrecondFieldCheck,
		FieldCheck: &FieldCondition{Field: field, Operator: op, Value: value},
	}
}

// StepCompleted builds a precondition that passes iff the given node has
// status completed in the run's graph.
func StepCompleted(stepID string) Precondition {
	return Precondition{Type: PrecondStepCompleted, StepID: stepID}
}

// TimeWindow builds a wall-clock gating precondition.
func TimeWindow(startHour, endHour int, days ...time.Weekday) Precondition {
	return Precondition{
		Type:       PrecondTimeWindow,
		TimeWindow: &TimeWindowConfig{StartHour: startHour, EndHour: endHour, DaysOfWeek: days},
	}
}

// RateLimit builds a shared-counter rate limiting precondition. The ID
// keys the shared counter; give related transitions the same ID to share
// a budget.
func RateLimit(id string, maxExecutions int, window time.Duration) Precondition {
	return Precondition{
		ID:        id,
		Type:      PrecondRateLimit,
		RateLimit: &RateLimitConfig{MaxExecutions: maxExecutions, Window: window},
	}
}

// FeatureFlag builds a precondition delegating to the injected flag
// resolver. With no resolver configured the check fails closed.
func FeatureFlag(name string) Precondition {
	return Precondition{Type: PrecondFeatureFlag, Flag: name}
}

// FlagResolver is the external feature-flag lookup collaborator.
type FlagResolver interface {
	IsEnabled(name string) bool
}

// FlagResolverFunc adapts a function to FlagResolver.
type FlagResolverFunc func(name string) bool

// IsEnabled implements FlagResolver.
func (f FlagResolverFunc) IsEnabled(name string) bool { return f(name) }

// CheckPreconditions evaluates guards with a fresh checker: wall clock,
// private rate counter, no flag resolver. For shared counters or an
// injected clock, hold a PreconditionChecker instead.
func CheckPreconditions(list []Precondition, step StepNode, ec *ExecutionContext, data map[string]any) []PreconditionResult {
	return NewPreconditionChecker(nil).Check(list, step, ec, data)
}

// PreconditionResult is one guard's verdict, carried for observability.
type PreconditionResult struct {
	Type   PreconditionType `json:"type"`
	Passed bool             `json:"passed"`
	Reason string           `json:"reason,omitempty"`
}

// AllPreconditionsPass is the logical AND over the results. An empty list
// passes vacuously.
func AllPreconditionsPass(results []PreconditionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// RateCounter is the shared execution counter behind rate_limit guards,
// keyed by (precondition ID, window bucket). Safe for concurrent use.
type RateCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewRateCounter creates an empty counter.
func NewRateCounter() *RateCounter {
	return &RateCounter{counts: make(map[string]int)}
}

// Allow increments the counter for the current bucket and reports whether
// the execution is within budget.
func (rc *RateCounter) Allow(id string, cfg RateLimitConfig, now time.Time) bool {
	if cfg.Window <= 0 || cfg.MaxExecutions <= 0 {
		return false
	}
	bucket := now.UnixMilli() / cfg.Window.Milliseconds()
	key := fmt.Sprintf("%s:%d", id, bucket)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.counts[key] >= cfg.MaxExecutions {
		return false
	}
	rc.counts[key]++
	return true
}

// PreconditionChecker evaluates guards with its injected collaborators:
// a clock (wall clock by default, replaceable in tests), the shared rate
// counter, and the optional feature-flag resolver.
type PreconditionChecker struct {
	Clock func() time.Time
	Flags FlagResolver
	Rates *RateCounter
}

// NewPreconditionChecker builds a checker with the real clock and a fresh
// rate counter.
func NewPreconditionChecker(flags FlagResolver) *PreconditionChecker {
	return &PreconditionChecker{
		Clock: time.Now,
		Flags: flags,
		Rates: NewRateCounter(),
	}
}

// Check evaluates every guard against the run context and data bag,
// returning one result per guard in input order.
func (pc *PreconditionChecker) Check(list []Precondition, step StepNode, ec *ExecutionContext, data map[string]any) []PreconditionResult {
	results := make([]PreconditionResult, 0, len(list))
	for _, p := range list {
		results = append(results, pc.checkOne(p, step, ec, data))
	}
	return results
}

func (pc *PreconditionChecker) checkOne(p Precondition, step StepNode, ec *ExecutionContext, data map[string]any) PreconditionResult {
	res := PreconditionResult{Type: p.Type}

	switch p.Type {
	case PrecondFieldCheck:
		if p.FieldCheck == nil {
			res.Reason = "missing field check config"
			return res
		}
		res.Passed = evaluateFieldCondition(*p.FieldCheck, data)
		if !res.Passed {
			res.Reason = fmt.Sprintf("field %s %s %v not satisfied", p.FieldCheck.Field, p.FieldCheck.Operator, p.FieldCheck.Value)
		}

	case PrecondStepCompleted:
		status := ec.NodeStatusOf(p.StepID)
		res.Passed = status == NodeCompleted
		if !res.Passed {
			res.Reason = fmt.Sprintf("step %s is %s, not completed", p.StepID, status)
		}

	case PrecondTimeWindow:
		if p.TimeWindow == nil {
			res.Reason = "missing time window config"
			return res
		}
		res.Passed, res.Reason = pc.inWindow(*p.TimeWindow)

	case PrecondRateLimit:
		if p.RateLimit == nil {
			res.Reason = "missing rate limit config"
			return res
		}
		id := p.ID
		if id == "" {
			// Anonymous limits still need a stable key; scope to the step.
			id = step.ID
		}
		res.Passed = pc.Rates.Allow(id, *p.RateLimit, pc.now())
		if !res.Passed {
			res.Reason = fmt.Sprintf("rate limit exceeded: %d per %v", p.RateLimit.MaxExecutions, p.RateLimit.Window)
		}

	case PrecondFeatureFlag:
		if pc.Flags == nil {
			res.Reason = "no flag resolver configured, failing closed"
			return res
		}
		res.Passed = pc.Flags.IsEnabled(p.Flag)
		if !res.Passed {
			res.Reason = "feature flag off: " + p.Flag
		}

	default:
		res.Reason = "unknown precondition type: " + string(p.Type)
	}

	return res
}

func (pc *PreconditionChecker) now() time.Time {
	if pc.Clock != nil {
		return pc.Clock()
	}
	return time.Now()
}

func (pc *PreconditionChecker) inWindow(w TimeWindowConfig) (bool, string) {
	now := pc.now()

	if len(w.DaysOfWeek) > 0 {
		dayOK := false
		for _, d := range w.DaysOfWeek {
			if now.Weekday() == d {
				dayOK = true
				break
			}
		}
		if !dayOK {
			return false, fmt.Sprintf("outside allowed days (today is %s)", now.Weekday())
		}
	}

	hour := now.Hour()
	var inHours bool
	if w.StartHour <= w.EndHour {
		inHours = hour >= w.StartHour && hour < w.EndHour
	} else {
		// Window wraps midnight.
		inHours = hour >= w.StartHour || hour < w.EndHour
	}
	if !inHours {
		return false, fmt.Sprintf("outside window %02d:00-%02d:00 (now %02d:00)", w.StartHour, w.EndHour, hour)
	}
	return true, ""
}
