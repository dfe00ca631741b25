package journey

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prospectiq/journey-go/journey/emit"
)

// Engine executes one run of a compiled journey at a time. It owns the
// ExecutionContext, drives ready nodes through registered handlers with
// bounded concurrency, merges outputs, selects transitions, recovers
// failed steps through fallback chains, and checkpoints on every status
// transition.
//
// Run, Resume, Pause, StopSession and ResolveManualReview are safe to
// call from different goroutines. Run and Resume block until the run
// reaches a terminal status or pauses.
type Engine struct {
	def      JourneyDefinition
	graph    *StateGraph
	handlers handlerRegistry
	opts     Options
	checker  *PreconditionChecker
	stats    *errorStats

	mu         sync.Mutex
	running    bool
	ec         *ExecutionContext
	inst       *JourneyInstance
	activated  map[string]bool
	generation map[string]int
	snapshots  map[string]map[string]any
	inFlight   int
	pauseReq   bool
	cancelReq  bool
	runErr     error
	cancelRun  context.CancelFunc

	outcomes    chan stepOutcome
	fallbacks   chan fallbackOutcome
	wake        chan struct{}
	resolutions []reviewResolution
}

// stepOutcome is one handler attempt's result, tagged with the attempt
// generation so late results from abandoned attempts are discarded. The
// generation counter is monotonic for the engine's lifetime, so an
// attempt abandoned by StopSession can never collide with a later run's
// attempt for the same node.
type stepOutcome struct {
	stepID string
	gen    int
	result StepResult
	err    error
}

// fallbackOutcome is a resolved fallback chain for a failed step. The
// chain executes on a detached context copy; snapshot carries the
// pre-step output state for rollback merge-back.
type fallbackOutcome struct {
	stepID   string
	gen      int
	res      FallbackResult
	err      error
	cause    error
	snapshot map[string]any
}

type reviewResolution struct {
	stepID  string
	output  any
	approve bool
}

// NewEngine compiles the definition and prepares an engine. Compilation
// fails fast with GRAPH_INVALID on structural defects.
func NewEngine(def JourneyDefinition, options ...Option) (*Engine, error) {
	graph, err := CompileGraph(def)
	if err != nil {
		return nil, err
	}

	opts := defaultOptions()
	for _, o := range options {
		o(&opts)
	}

	checker := NewPreconditionChecker(opts.Flags)
	checker.Clock = opts.Clock

	return &Engine{
		def:        def,
		graph:      graph,
		handlers:   make(handlerRegistry),
		opts:       opts,
		checker:    checker,
		stats:      newErrorStats(),
		generation: make(map[string]int),
		wake:       make(chan struct{}, 1),
	}, nil
}

// RegisterHandler binds a handler to a step type. Steps of an
// unregistered type fail at dispatch with NO_HANDLER.
func (e *Engine) RegisterHandler(stepType string, h StepHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return NewError(CodeGraphInvalid, "cannot register handlers while running")
	}
	return e.handlers.register(stepType, h)
}

// GetGraph returns the compiled state graph.
func (e *Engine) GetGraph() *StateGraph { return e.graph }

// GetStatus returns the current run status, StatusIdle before the first
// Run.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ec == nil {
		return StatusIdle
	}
	return e.ec.Status
}

// GetContext returns a copy of the current execution context, nil before
// the first Run. The copy shares output values but not maps, so callers
// cannot corrupt engine state.
func (e *Engine) GetContext() *ExecutionContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ec == nil {
		return nil
	}
	return e.contextCopyLocked()
}

// ErrorStats returns a snapshot of the errors observed by this engine
// instance.
func (e *Engine) ErrorStats() ErrorStats { return e.stats.snapshot() }

// Run starts a fresh run with the given input and blocks until it
// completes, fails, is cancelled, or pauses. The returned context is a
// copy of the final state.
func (e *Engine) Run(ctx context.Context, input map[string]any) (*ExecutionContext, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, NewError(CodeExecutionFailed, "engine is already running")
	}

	now := e.opts.Clock()
	e.ec = &ExecutionContext{
		InstanceID: uuid.NewString(),
		JourneyID:  e.def.ID,
		Version:    e.def.Version,
		Status:     StatusRunning,
		Nodes:      e.graph.newNodeStatusMap(),
		Data: ExecutionData{
			Input:       input,
			StepOutputs: make(map[string]any),
			Variables:   make(map[string]any),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.inst = &JourneyInstance{
		ExecutionContext: *e.ec,
		TenantID:         e.opts.TenantID,
	}
	e.activated = map[string]bool{e.graph.StartNodeID: true}
	e.snapshots = make(map[string]map[string]any)
	e.outcomes = make(chan stepOutcome, e.opts.MaxConcurrentSteps)
	e.fallbacks = make(chan fallbackOutcome, e.opts.MaxConcurrentSteps)
	e.resolutions = nil
	e.inFlight = 0
	e.pauseReq = false
	e.cancelReq = false
	e.runErr = nil
	e.running = true

	e.emitLocked(emit.KindRunStart, "", "journey run started", nil)
	if e.opts.Store != nil {
		if err := e.opts.Store.SaveInstance(ctx, e.instanceCopyLocked()); err != nil {
			e.emitLocked(emit.KindErrorOccurred, "", "instance save failed", map[string]any{"error": err.Error()})
		}
	}
	e.checkpointLocked(ctx)
	e.mu.Unlock()

	return e.loop(ctx)
}

// Resume continues a paused run. It blocks like Run.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return NewError(CodeExecutionFailed, "engine is already running")
	}
	if e.ec == nil || e.ec.Status != StatusPaused {
		e.mu.Unlock()
		return NewError(CodeExecutionFailed, "no paused run to resume")
	}

	e.ec.Status = StatusRunning
	e.ec.UpdatedAt = e.opts.Clock()
	e.pauseReq = false
	e.cancelReq = false
	e.running = true
	e.checkpointLocked(ctx)
	e.mu.Unlock()

	_, err := e.loop(ctx)
	return err
}

// Hydrate loads a checkpointed run from the store into this engine as a
// paused run, for crash recovery. Nodes caught mid-flight at the
// checkpoint are rewound to pending; activation is rebuilt by re-firing
// transition conditions from completed nodes, which is deterministic
// because conditions read only the checkpointed data bag.
func (e *Engine) Hydrate(ctx context.Context, instanceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return NewError(CodeExecutionFailed, "engine is already running")
	}
	if e.opts.Store == nil {
		return NewError(CodeExecutionFailed, "no store configured")
	}

	ec, err := e.opts.Store.LoadCheckpoint(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", instanceID, err)
	}
	inst, err := e.opts.Store.LoadInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	if ec.JourneyID != e.def.ID || ec.Version != e.def.Version {
		return NewError(CodeGraphInvalid, fmt.Sprintf("checkpoint is for %s v%d, engine compiled %s v%d",
			ec.JourneyID, ec.Version, e.def.ID, e.def.Version))
	}

	for id, status := range ec.Nodes {
		if status == NodeRunning {
			ec.Nodes[id] = NodePending
		}
	}
	ec.Status = StatusPaused

	e.ec = ec
	e.inst = inst
	e.snapshots = make(map[string]map[string]any)
	e.outcomes = make(chan stepOutcome, e.opts.MaxConcurrentSteps)
	e.fallbacks = make(chan fallbackOutcome, e.opts.MaxConcurrentSteps)
	e.resolutions = nil
	e.inFlight = 0
	e.runErr = nil

	e.activated = map[string]bool{e.graph.StartNodeID: true}
	bag := e.ec.Data.Bag()
	for _, id := range e.graph.NodeIDs() {
		if e.ec.NodeStatusOf(id) != NodePending {
			e.activated[id] = true
		}
	}
	for _, id := range e.graph.NodeIDs() {
		if e.ec.NodeStatusOf(id) != NodeCompleted && e.ec.NodeStatusOf(id) != NodeSkipped {
			continue
		}
		fired := SelectTransitions(e.graph.Outgoing(id), bag, SelectOptions{AllowMultiple: e.opts.AllowMultiple})
		for _, tr := range fired {
			e.activated[tr.To] = true
		}
	}
	return nil
}

// Pause requests a graceful pause: no further dispatch, in-flight steps
// drain to completion, then Run returns with status paused.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return NewError(CodeExecutionFailed, "engine is not running")
	}
	e.pauseReq = true
	e.signalWake()
	return nil
}

// StopSession cancels the run: no further dispatch, in-flight handlers
// are abandoned without blocking, status becomes cancelled and a final
// checkpoint is written.
func (e *Engine) StopSession() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return NewError(CodeExecutionFailed, "engine is not running")
	}
	e.cancelReq = true
	if e.cancelRun != nil {
		e.cancelRun()
	}
	e.signalWake()
	return nil
}

// ResolveManualReview resolves a step parked by the manual_review
// fallback strategy. Approval completes the node with the given output
// and the run proceeds; rejection fails the node and the run.
func (e *Engine) ResolveManualReview(stepID string, output any, approve bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return NewError(CodeExecutionFailed, "engine is not running")
	}
	if e.ec.NodeStatusOf(stepID) != NodePendingReview {
		return NewError(CodeExecutionFailed, "step "+stepID+" is not pending review")
	}
	e.resolutions = append(e.resolutions, reviewResolution{stepID: stepID, output: output, approve: approve})
	e.signalWake()
	return nil
}

// loop is the single-consumer scheduler. Only this goroutine mutates the
// execution context; all mutation happens under mu so readers stay
// consistent.
func (e *Engine) loop(ctx context.Context) (*ExecutionContext, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancelRun = cancel
	// Captured by value: a later run replaces the fields, and an
	// abandoned goroutine must keep talking to its own run's channels.
	outcomes := e.outcomes
	fallbacks := e.fallbacks
	e.mu.Unlock()

	for {
		e.mu.Lock()
		e.applyResolutionsLocked(runCtx)

		if e.cancelReq {
			return e.finishLocked(runCtx, StatusCancelled, emit.KindRunCancelled, ctx.Err())
		}
		if e.ec.Status == StatusFailed {
			return e.finishLocked(runCtx, StatusFailed, emit.KindRunFailed, e.runErr)
		}
		if e.pauseReq && e.inFlight == 0 {
			return e.finishLocked(runCtx, StatusPaused, emit.KindRunPaused, nil)
		}

		dispatched := 0
		if !e.pauseReq {
			for _, id := range e.readyNodesLocked() {
				if e.inFlight >= e.opts.MaxConcurrentSteps {
					break
				}
				e.dispatchLocked(runCtx, id)
				dispatched++
			}
			// Dispatch may fail a node synchronously (NO_HANDLER).
			if e.ec.Status == StatusFailed {
				return e.finishLocked(runCtx, StatusFailed, emit.KindRunFailed, e.runErr)
			}
		}

		parked := e.pendingReviewCountLocked() > 0
		if e.inFlight == 0 && dispatched == 0 && !parked && len(e.resolutions) == 0 && !e.pauseReq {
			if e.endCompletedLocked() {
				return e.finishLocked(runCtx, StatusCompleted, emit.KindRunComplete, nil)
			}
			err := NewError(CodeDeadEnd, "no executable steps remain and no end step completed")
			e.failLocked(err)
			return e.finishLocked(runCtx, StatusFailed, emit.KindRunFailed, err)
		}
		e.mu.Unlock()

		select {
		case out := <-outcomes:
			e.handleOutcome(runCtx, out)
		case fb := <-fallbacks:
			e.handleFallback(runCtx, fb)
		case <-e.wake:
		case <-runCtx.Done():
			e.mu.Lock()
			e.cancelReq = true
			e.mu.Unlock()
		}
	}
}

// readyNodesLocked returns activated pending nodes whose activated
// predecessors have all reached a terminal status. Nodes never activated
// (branches not taken) do not gate joins.
func (e *Engine) readyNodesLocked() []string {
	var ready []string
	for _, id := range e.graph.NodeIDs() {
		if !e.activated[id] || e.ec.NodeStatusOf(id) != NodePending {
			continue
		}
		blocked := false
		for _, pred := range e.graph.Predecessors(id) {
			if e.activated[pred] && !e.ec.NodeStatusOf(pred).Terminal() {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, id)
		}
	}
	return ready
}

func (e *Engine) pendingReviewCountLocked() int {
	n := 0
	for _, status := range e.ec.Nodes {
		if status == NodePendingReview {
			n++
		}
	}
	return n
}

func (e *Engine) endCompletedLocked() bool {
	for _, id := range e.graph.EndNodeIDs {
		if e.ec.NodeStatusOf(id) == NodeCompleted {
			return true
		}
	}
	return false
}

// dispatchLocked marks a node running and launches its handler attempt.
// The attempt is wrapped in the per-step timeout and the engine's retry
// policy; its outcome is tagged with a generation counter so a result
// arriving after the node moved on is discarded.
func (e *Engine) dispatchLocked(ctx context.Context, stepID string) {
	step, _ := e.graph.Node(stepID)

	handler, ok := e.handlers[step.Type]
	if !ok {
		err := NewError(CodeNoHandler, "no handler registered for step type "+step.Type)
		e.ec.Nodes[stepID] = NodeFailed
		e.recordErrorLocked(stepID, err)
		e.appendHistoryLocked(HistoryEntry{StepID: stepID, Error: err.Error(), At: e.opts.Clock()})
		e.failLocked(err)
		return
	}

	e.ec.Nodes[stepID] = NodeRunning
	e.ec.UpdatedAt = e.opts.Clock()
	e.generation[stepID]++
	gen := e.generation[stepID]
	e.inFlight++
	e.snapshots[stepID] = copyAnyMap(e.ec.Data.StepOutputs)

	data := e.dataCopyLocked()
	ecCopy := e.contextCopyLocked()
	timeout := e.stepTimeout(step)
	retry := e.opts.Retry
	outcomes := e.outcomes

	e.emitLocked(emit.KindStepStart, stepID, "step started", map[string]any{"attempt": gen})
	if e.opts.Metrics != nil {
		e.opts.Metrics.StepsInFlight.Inc()
	}

	go func() {
		start := time.Now()
		attempt := 0
		res, err := WithRetry(ctx, func(ctx context.Context) (StepResult, error) {
			attempt++
			if attempt > 1 && e.opts.Metrics != nil {
				e.opts.Metrics.Retries.WithLabelValues(e.def.ID, stepID).Inc()
			}
			return WithTimeout(ctx, timeout, func(ctx context.Context) (StepResult, error) {
				return handler.Execute(ctx, step, ecCopy, data)
			})
		}, retry)

		if err == nil {
			res.StepID = stepID
			if res.Status == "" {
				res.Status = NodeCompleted
			}
			if res.StartedAt.IsZero() {
				res.StartedAt = start
			}
			if res.CompletedAt.IsZero() {
				res.CompletedAt = time.Now()
			}
			if res.DurationMS == 0 {
				res.DurationMS = res.CompletedAt.Sub(res.StartedAt).Milliseconds()
			}
		}
		outcomes <- stepOutcome{stepID: stepID, gen: gen, result: res, err: err}
	}()
}

// stepTimeout reads the per-node timeout from the step config, falling
// back to the engine default. Config key "timeoutMs" accepts any numeric
// JSON type.
func (e *Engine) stepTimeout(step StepNode) time.Duration {
	if raw, ok := step.Config["timeoutMs"]; ok {
		if ms, ok := toFloat(raw); ok && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return e.opts.DefaultStepTimeout
}

func (e *Engine) handleOutcome(ctx context.Context, out stepOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if out.gen != e.generation[out.stepID] {
		// Stale attempt; the node already moved on.
		return
	}
	e.inFlight--
	if e.opts.Metrics != nil {
		e.opts.Metrics.StepsInFlight.Dec()
	}
	snapshot := e.snapshots[out.stepID]
	delete(e.snapshots, out.stepID)

	if out.err == nil {
		e.observeStepLocked(out.stepID, out.result.DurationMS, string(out.result.Status))
		e.applyResultLocked(ctx, out.stepID, out.result)
		return
	}

	e.recordErrorLocked(out.stepID, out.err)
	e.appendHistoryLocked(HistoryEntry{StepID: out.stepID, Error: out.err.Error(), At: e.opts.Clock()})
	e.emitLocked(emit.KindStepFailed, out.stepID, "step failed", map[string]any{"error": out.err.Error()})
	e.observeStepLocked(out.stepID, 0, string(NodeFailed))

	e.launchFallbackLocked(ctx, out.stepID, out.gen, snapshot, out.err)
}

// launchFallbackLocked starts the fallback chain for a failed step in
// its own goroutine. The chain runs against a detached context copy, so
// workflow-level retries and their delays never hold the engine lock;
// the node counts as in-flight until the resolution lands in
// handleFallback.
func (e *Engine) launchFallbackLocked(ctx context.Context, stepID string, gen int, snapshot map[string]any, cause error) {
	step, _ := e.graph.Node(stepID)

	chain, ok := e.opts.Fallbacks[stepID]
	if !ok {
		chain = DefaultFallbackChain(cause)
	}

	exec := &FallbackExecutor{Handler: e.handlers[step.Type], Snapshot: snapshot}
	ecCopy := e.contextCopyLocked()
	fallbacks := e.fallbacks
	e.inFlight++

	go func() {
		res, err := exec.ExecuteChain(ctx, chain, step, ecCopy, cause)
		fallbacks <- fallbackOutcome{
			stepID:   stepID,
			gen:      gen,
			res:      res,
			err:      err,
			cause:    cause,
			snapshot: snapshot,
		}
	}()
}

// handleFallback merges a resolved fallback chain back into the live run
// state. The chain mutated only its detached copy; node status, run
// status and rollback restores are applied here.
func (e *Engine) handleFallback(ctx context.Context, out fallbackOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if out.gen != e.generation[out.stepID] {
		return
	}
	e.inFlight--

	if e.opts.Metrics != nil {
		e.opts.Metrics.Fallbacks.WithLabelValues(e.def.ID, string(out.res.Strategy)).Inc()
	}
	e.emitLocked(emit.KindFallback, out.stepID, "fallback applied", map[string]any{
		"strategy": string(out.res.Strategy),
		"error":    out.cause.Error(),
	})

	if out.res.Strategy == FallbackRollback {
		e.ec.Data.StepOutputs = copyAnyMap(out.snapshot)
	}

	switch {
	case out.err != nil:
		e.ec.Nodes[out.stepID] = NodeFailed
		e.recordErrorLocked(out.stepID, out.err)
		e.failLocked(out.err)

	case out.res.ShouldFail:
		e.ec.Nodes[out.stepID] = NodeFailed
		e.failLocked(out.cause)

	case out.res.ShouldContinue && out.res.Result != nil:
		// Workflow-level retry recovered the step.
		e.observeStepLocked(out.stepID, out.res.Result.DurationMS, string(out.res.Result.Status))
		e.applyResultLocked(ctx, out.stepID, *out.res.Result)

	case out.res.ShouldContinue && out.res.NextStepID != "":
		e.ec.Nodes[out.stepID] = NodeSkipped
		e.activated[out.res.NextStepID] = true
		e.emitLocked(emit.KindStepSkipped, out.stepID, "redirected to "+out.res.NextStepID, nil)
		e.checkpointLocked(ctx)

	case out.res.ShouldContinue:
		// Skipped: transitions still fire so downstream work proceeds.
		e.ec.Nodes[out.stepID] = NodeSkipped
		e.emitLocked(emit.KindStepSkipped, out.stepID, "step skipped by fallback", nil)
		e.fireTransitionsLocked(ctx, out.stepID)
		e.checkpointLocked(ctx)

	default:
		// Parked for manual review.
		e.ec.Nodes[out.stepID] = NodePendingReview
		e.emitLocked(emit.KindStepReview, out.stepID, "step parked for manual review", nil)
		e.checkpointLocked(ctx)
	}
}

// applyResultLocked merges a successful step result into the run state
// and fires outgoing transitions.
func (e *Engine) applyResultLocked(ctx context.Context, stepID string, res StepResult) {
	status := res.Status
	if status != NodeCompleted && status != NodeSkipped {
		status = NodeCompleted
	}
	e.ec.Nodes[stepID] = status
	e.ec.UpdatedAt = e.opts.Clock()
	if res.Output != nil {
		e.ec.Data.StepOutputs[stepID] = res.Output
	}
	e.appendHistoryLocked(HistoryEntry{StepID: stepID, Result: &res, At: e.opts.Clock()})

	kind := emit.KindStepComplete
	if status == NodeSkipped {
		kind = emit.KindStepSkipped
	}
	e.emitLocked(kind, stepID, "step "+string(status), map[string]any{"duration_ms": res.DurationMS})

	e.fireTransitionsLocked(ctx, stepID)
	e.checkpointLocked(ctx)
}

// fireTransitionsLocked evaluates outgoing transitions of a finished
// node in priority order and activates the targets of those that fire. A
// transition whose condition matches but whose preconditions fail is
// blocked, not an error; lower-priority alternatives are still tried. A
// non-end node where no condition matches at all is a dead end and fails
// the run immediately, so a fan-out branch cannot die silently while a
// sibling completes.
func (e *Engine) fireTransitionsLocked(ctx context.Context, stepID string) {
	step, _ := e.graph.Node(stepID)
	if step.IsEnd {
		return
	}
	bag := e.ec.Data.Bag()

	fired, blocked := 0, 0
	for _, tr := range e.graph.Outgoing(stepID) {
		if !EvaluateCondition(tr.Condition, bag) {
			continue
		}
		results := e.checker.Check(tr.Preconditions, step, e.ec, bag)
		if !AllPreconditionsPass(results) {
			blocked++
			for _, r := range results {
				if !r.Passed {
					e.emitLocked(emit.KindTransition, stepID, "transition blocked: "+r.Reason,
						map[string]any{"transition_id": tr.ID, "blocked": true})
					break
				}
			}
			continue
		}

		e.activated[tr.To] = true
		fired++
		e.emitLocked(emit.KindTransition, stepID, "transition to "+tr.To,
			map[string]any{"transition_id": tr.ID})
		if !e.opts.AllowMultiple {
			break
		}
	}

	// Precondition-blocked transitions stall (they may unblock on a
	// later evaluation); zero matching conditions cannot.
	if fired == 0 && blocked == 0 {
		err := NewError(CodeDeadEnd, "no transition fired from step "+stepID)
		e.recordErrorLocked(stepID, err)
		e.failLocked(err)
	}
}

// applyResolutionsLocked consumes queued manual review decisions.
func (e *Engine) applyResolutionsLocked(ctx context.Context) {
	pending := e.resolutions
	e.resolutions = nil

	for _, r := range pending {
		if e.ec.NodeStatusOf(r.stepID) != NodePendingReview {
			continue
		}
		if !r.approve {
			e.ec.Nodes[r.stepID] = NodeFailed
			err := NewError(CodeExecutionFailed, "manual review rejected for step "+r.stepID)
			e.recordErrorLocked(r.stepID, err)
			e.appendHistoryLocked(HistoryEntry{StepID: r.stepID, Error: err.Error(), At: e.opts.Clock()})
			e.failLocked(err)
			continue
		}

		now := e.opts.Clock()
		res := StepResult{
			StepID:      r.stepID,
			Status:      NodeCompleted,
			Output:      r.output,
			StartedAt:   now,
			CompletedAt: now,
		}
		e.applyResultLocked(ctx, r.stepID, res)
	}
}

// failLocked marks the run failed. The terminal bookkeeping happens in
// finishLocked on the next loop iteration.
func (e *Engine) failLocked(err error) {
	e.ec.Status = StatusFailed
	e.ec.UpdatedAt = e.opts.Clock()
	if e.runErr == nil {
		e.runErr = err
	}
}

// finishLocked finalizes the run with mu held, writes the last
// checkpoint, and releases the lock. Paused is resumable; the rest are
// terminal.
func (e *Engine) finishLocked(ctx context.Context, status Status, kind emit.Kind, runErr error) (*ExecutionContext, error) {
	e.ec.Status = status
	e.ec.UpdatedAt = e.opts.Clock()
	e.running = false
	e.cancelRun = nil

	meta := map[string]any{}
	if runErr != nil {
		meta["error"] = runErr.Error()
	}
	e.emitLocked(kind, "", "journey run "+string(status), meta)
	if e.opts.Metrics != nil && status != StatusPaused {
		e.opts.Metrics.Runs.WithLabelValues(e.def.ID, string(status)).Inc()
	}
	e.checkpointLocked(ctx)

	out := e.contextCopyLocked()
	e.mu.Unlock()
	return out, runErr
}

// checkpointLocked writes the execution context through the store and
// refreshes the instance record. Persistence failures are surfaced as
// error events, not run failures.
func (e *Engine) checkpointLocked(ctx context.Context) {
	if e.opts.Store == nil {
		return
	}

	ec := e.contextCopyLocked()
	if err := e.opts.Store.SaveCheckpoint(ctx, ec.InstanceID, ec); err != nil {
		e.emitLocked(emit.KindErrorOccurred, "", "checkpoint save failed", map[string]any{"error": err.Error()})
		return
	}

	status := ec.Status
	update := InstanceUpdate{
		Status:    &status,
		Data:      &ec.Data,
		History:   e.inst.History,
		UpdatedAt: ec.UpdatedAt,
	}
	if err := e.opts.Store.UpdateInstance(ctx, ec.InstanceID, update); err != nil {
		e.emitLocked(emit.KindErrorOccurred, "", "instance update failed", map[string]any{"error": err.Error()})
		return
	}
	e.emitLocked(emit.KindCheckpoint, "", "checkpoint saved", nil)
}

func (e *Engine) appendHistoryLocked(entry HistoryEntry) {
	e.inst.History = append(e.inst.History, entry)
}

func (e *Engine) recordErrorLocked(stepID string, err error) {
	c := ClassifyError(err)
	e.stats.record(c)
	if e.opts.Metrics != nil {
		e.opts.Metrics.Errors.WithLabelValues(e.def.ID, c.Code).Inc()
	}
	e.emitLocked(emit.KindErrorOccurred, stepID, err.Error(), map[string]any{"code": c.Code})
}

func (e *Engine) observeStepLocked(stepID string, durationMS int64, status string) {
	if e.opts.Metrics == nil {
		return
	}
	e.opts.Metrics.StepDuration.WithLabelValues(e.def.ID, stepID, status).
		Observe(float64(durationMS) / 1000)
}

func (e *Engine) emitLocked(kind emit.Kind, stepID, msg string, meta map[string]any) {
	e.opts.Emitter.Emit(emit.Event{
		InstanceID: e.ec.InstanceID,
		JourneyID:  e.ec.JourneyID,
		StepID:     stepID,
		Kind:       kind,
		Msg:        msg,
		At:         e.opts.Clock(),
		Meta:       meta,
	})
}

func (e *Engine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) contextCopyLocked() *ExecutionContext {
	cp := *e.ec
	cp.Nodes = make(map[string]NodeStatus, len(e.ec.Nodes))
	for k, v := range e.ec.Nodes {
		cp.Nodes[k] = v
	}
	cp.Data = e.dataCopyLocked()
	return &cp
}

func (e *Engine) dataCopyLocked() ExecutionData {
	return ExecutionData{
		Input:       copyAnyMap(e.ec.Data.Input),
		StepOutputs: copyAnyMap(e.ec.Data.StepOutputs),
		Variables:   copyAnyMap(e.ec.Data.Variables),
	}
}

func (e *Engine) instanceCopyLocked() *JourneyInstance {
	inst := &JourneyInstance{
		ExecutionContext: *e.contextCopyLocked(),
		TenantID:         e.inst.TenantID,
	}
	inst.History = append(inst.History, e.inst.History...)
	return inst
}

// copyAnyMap is a shallow copy; values are shared. Step outputs are
// treated as immutable once merged.
func copyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
