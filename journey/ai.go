package journey

import (
	"context"
	"strings"

	"github.com/prospectiq/journey-go/journey/model"
)

// AIHandler builds the reference handler for ai-type steps. The prompt
// template is rendered against the data bag with ${path} substitution,
// sent to the chat model, and the exchange is captured in the result's
// AILog for the replay engine.
//
// Step config keys, all optional, override the template and request:
//
//	"prompt"      string:   per-step prompt template
//	"system"      string:   system prompt template
//	"maxTokens"   number:   response cap
//	"temperature" number:   sampling temperature
//	"outcomes"    []string: decision mode. The first outcome found in
//	                        the response (case-insensitive) is selected
//	                        and exposed as output key "outcome".
func AIHandler(m model.ChatModel, promptTemplate string) StepHandler {
	return HandlerFunc(func(ctx context.Context, step StepNode, ec *ExecutionContext, data ExecutionData) (StepResult, error) {
		bag := data.Bag()

		template := promptTemplate
		if s, ok := step.Config["prompt"].(string); ok && s != "" {
			template = s
		}

		req := model.Request{Prompt: EvaluateExpression(template, bag)}
		if s, ok := step.Config["system"].(string); ok && s != "" {
			req.System = EvaluateExpression(s, bag)
		}
		if n, ok := toFloat(step.Config["maxTokens"]); ok {
			req.MaxTokens = int(n)
		}
		if t, ok := toFloat(step.Config["temperature"]); ok {
			req.Temperature = t
		}

		out, err := m.Chat(ctx, req)
		if err != nil {
			return StepResult{}, err
		}

		log := &AILog{
			Prompt:       req.Prompt,
			Response:     out.Text,
			Model:        out.Model,
			InputTokens:  out.InputTokens,
			OutputTokens: out.OutputTokens,
			CostUSD:      out.CostUSD,
		}
		output := map[string]any{
			"text":  out.Text,
			"model": out.Model,
		}

		if outcome := selectOutcome(step.Config["outcomes"], out.Text); outcome != "" {
			log.SelectedOutcome = outcome
			output["outcome"] = outcome
		}

		return StepResult{
			StepID: step.ID,
			Status: NodeCompleted,
			Output: output,
			AILog:  log,
		}, nil
	})
}

// selectOutcome returns the first configured outcome mentioned in the
// response text, matching case-insensitively.
func selectOutcome(raw any, response string) string {
	outcomes, ok := raw.([]any)
	if !ok {
		return ""
	}
	lower := strings.ToLower(response)
	for _, o := range outcomes {
		name, ok := o.(string)
		if !ok || name == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(name)) {
			return name
		}
	}
	return ""
}
