// Package journey provides the core execution engine for versioned,
// multi-step business workflows ("journeys").
//
// A journey is a directed graph of typed steps connected by optionally
// conditioned transitions. The Engine compiles a JourneyDefinition into a
// StateGraph, drives execution through registered step handlers, evaluates
// branching conditions and guard preconditions, recovers from step
// failures via configurable fallback chains, and checkpoints execution
// state through a pluggable persistence adapter on every status change.
package journey

import "time"

// Status is the lifecycle state of a journey run.
type Status string

// Run statuses.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// NodeStatus is the lifecycle state of a single step within a run.
type NodeStatus string

// Node statuses. NodePendingReview is a suspended sub-state entered by
// the manual_review fallback strategy; the host application resolves it
// via Engine.ResolveManualReview.
const (
	NodePending       NodeStatus = "pending"
	NodeRunning       NodeStatus = "running"
	NodeCompleted     NodeStatus = "completed"
	NodeFailed        NodeStatus = "failed"
	NodeSkipped       NodeStatus = "skipped"
	NodePendingReview NodeStatus = "pending_review"
)

// Terminal reports whether a node in this status will make no further
// progress in the current run.
func (s NodeStatus) Terminal() bool {
	return s == NodeCompleted || s == NodeFailed || s == NodeSkipped
}

// StepNode is a unit of work in a journey definition. The Type tag selects
// the StepHandler that executes it (discovery, enrichment, ai, action,
// condition, ...). Config is an opaque per-type payload interpreted only
// by the handler. Nodes are immutable once a definition version is
// published.
type StepNode struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Label   string         `json:"label,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
	IsStart bool           `json:"isStart,omitempty"`
	IsEnd   bool           `json:"isEnd,omitempty"`
}

// Transition is a directed, optionally conditioned edge between two steps.
// Multiple transitions may share a From step (branching). Lower Priority
// values are evaluated first; ties preserve definition order.
type Transition struct {
	ID            string         `json:"id"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	Condition     *Condition     `json:"condition,omitempty"`
	Priority      int            `json:"priority,omitempty"`
	Preconditions []Precondition `json:"preconditions,omitempty"`
}

// JourneyDefinition is a published, versioned journey graph. A published
// version is immutable; Version is a monotonic integer.
type JourneyDefinition struct {
	ID          string       `json:"id"`
	Version     int          `json:"version"`
	Steps       []StepNode   `json:"steps"`
	Transitions []Transition `json:"transitions"`
}

// ExecutionData is the data bag a run accumulates: the run input, per-step
// outputs keyed by step ID, and free-form variables. Conditions and
// ${path} templates address it under the top-level keys "input", "steps"
// and "variables".
type ExecutionData struct {
	Input       map[string]any `json:"input,omitempty"`
	StepOutputs map[string]any `json:"stepOutputs,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// Bag returns the flattened lookup namespace used by condition and
// template evaluation.
func (d ExecutionData) Bag() map[string]any {
	return map[string]any{
		"input":     d.Input,
		"steps":     d.StepOutputs,
		"variables": d.Variables,
	}
}

// ExecutionContext is the mutable per-run state owned by exactly one
// Engine instance. It holds only node statuses plus the data bag; step
// configuration lives in the immutable definition and is never duplicated
// here. The context is serialized into checkpoints on every status
// transition.
type ExecutionContext struct {
	InstanceID string                `json:"instanceId"`
	JourneyID  string                `json:"journeyId"`
	Version    int                   `json:"version"`
	Status     Status                `json:"status"`
	Nodes      map[string]NodeStatus `json:"nodes"`
	Data       ExecutionData         `json:"data"`
	CreatedAt  time.Time             `json:"createdAt"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

// NodeStatusOf returns the status of a node, defaulting to NodePending
// for nodes that have not been touched.
func (ec *ExecutionContext) NodeStatusOf(stepID string) NodeStatus {
	if s, ok := ec.Nodes[stepID]; ok {
		return s
	}
	return NodePending
}

// AILog captures one model interaction performed by an AI step handler.
// The replay engine aggregates these into token, cost and model
// statistics.
type AILog struct {
	Prompt          string  `json:"prompt"`
	Response        string  `json:"response"`
	Model           string  `json:"model"`
	InputTokens     int     `json:"inputTokens"`
	OutputTokens    int     `json:"outputTokens"`
	CostUSD         float64 `json:"costUsd"`
	SelectedOutcome string  `json:"selectedOutcome,omitempty"`
}

// StepResult is written by a step handler and consumed by the engine to
// update stepOutputs and node status.
type StepResult struct {
	StepID      string     `json:"stepId"`
	Status      NodeStatus `json:"status"`
	Output      any        `json:"output,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt time.Time  `json:"completedAt"`
	DurationMS  int64      `json:"durationMs"`
	Logs        []string   `json:"logs,omitempty"`
	AILog       *AILog     `json:"aiLog,omitempty"`
}

// HistoryEntry records one step outcome (or error) on the persisted
// instance.
type HistoryEntry struct {
	StepID string      `json:"stepId"`
	Result *StepResult `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	At     time.Time   `json:"at"`
}

// JourneyInstance is the durable record of a run: the execution context
// plus tenancy and history. It is created when a run starts, mutated on
// every checkpoint, and deleted only by an explicit administrative purge
// through the persistence adapter.
type JourneyInstance struct {
	ExecutionContext
	TenantID string         `json:"tenantId,omitempty"`
	History  []HistoryEntry `json:"history,omitempty"`
}

// FallbackStrategy names a recovery strategy attempted after a step's
// handler-level retries are exhausted.
type FallbackStrategy string

// Fallback strategies, in the order a chain typically tries them.
const (
	FallbackSkip         FallbackStrategy = "skip"
	FallbackRetry        FallbackStrategy = "retry"
	FallbackStep         FallbackStrategy = "fallback_step"
	FallbackManualReview FallbackStrategy = "manual_review"
	FallbackFail         FallbackStrategy = "fail"
	FallbackRollback     FallbackStrategy = "rollback"
)

// FallbackConfig carries the strategy-specific knobs for one entry of a
// fallback chain.
//
// For rollback, the restored state always degrades to fail unless
// RetryAfterRollback is set, in which case a single workflow-level retry
// round is performed with the restored outputs.
type FallbackConfig struct {
	Strategy           FallbackStrategy `json:"strategy"`
	MaxRetries         int              `json:"maxRetries,omitempty"`
	RetryDelay         time.Duration    `json:"retryDelay,omitempty"`
	FallbackStepID     string           `json:"fallbackStepId,omitempty"`
	RetryAfterRollback bool             `json:"retryAfterRollback,omitempty"`
}

// FallbackChain is an ordered list of strategies with their configs,
// attempted in order until one succeeds.
type FallbackChain struct {
	Order   []FallbackStrategy                   `json:"order"`
	Configs map[FallbackStrategy]FallbackConfig `json:"configs,omitempty"`
}

// ConfigFor returns the config for a strategy, zero-valued if absent.
func (c FallbackChain) ConfigFor(s FallbackStrategy) FallbackConfig {
	if cfg, ok := c.Configs[s]; ok {
		cfg.Strategy = s
		return cfg
	}
	return FallbackConfig{Strategy: s}
}
