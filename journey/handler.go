package journey

import "context"

// StepHandler executes one step type. Handlers are supplied per
// deployment: AI calls, enrichment lookups, outbound actions. They are
// opaque to the engine, which only contracts for a StepResult or an
// error.
//
// Handlers must be safely abandonable: the engine discards (without
// blocking on) results that arrive after a timeout or cancellation, so a
// handler must not rely on its caller observing late side effects.
type StepHandler interface {
	Execute(ctx context.Context, step StepNode, ec *ExecutionContext, data ExecutionData) (StepResult, error)
}

// HandlerFunc adapts a plain function to StepHandler.
type HandlerFunc func(ctx context.Context, step StepNode, ec *ExecutionContext, data ExecutionData) (StepResult, error)

// Execute implements StepHandler.
func (f HandlerFunc) Execute(ctx context.Context, step StepNode, ec *ExecutionContext, data ExecutionData) (StepResult, error) {
	return f(ctx, step, ec, data)
}

// handlerRegistry is the typed step-type → handler map. Unknown types are
// rejected at dispatch with NO_HANDLER; duplicates are rejected at
// registration.
type handlerRegistry map[string]StepHandler

func (r handlerRegistry) register(stepType string, h StepHandler) error {
	if stepType == "" {
		return NewError(CodeGraphInvalid, "handler step type cannot be empty")
	}
	if h == nil {
		return NewError(CodeGraphInvalid, "handler cannot be nil for type "+stepType)
	}
	if _, exists := r[stepType]; exists {
		return NewError(CodeGraphInvalid, "duplicate handler for type "+stepType)
	}
	r[stepType] = h
	return nil
}
