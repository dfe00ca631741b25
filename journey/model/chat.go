// Package model defines the chat model contract used by AI step
// handlers, plus a scriptable mock. Provider adapters live in the
// subpackages anthropic, openai and google.
package model

import "context"

// Request is a single-turn chat request.
type Request struct {
	// System is the optional system prompt.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens caps the response length. Zero uses the adapter default.
	MaxTokens int

	// Temperature, when positive, overrides the provider default.
	Temperature float64
}

// ChatOut is the normalized response across providers.
type ChatOut struct {
	Text         string  `json:"text"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// ChatModel is the provider abstraction AI step handlers execute
// against. Implementations must be safe for concurrent use.
type ChatModel interface {
	// Name identifies the backing provider/model for logs and replay.
	Name() string

	// Chat performs one request/response exchange.
	Chat(ctx context.Context, req Request) (ChatOut, error)
}

// Pricing is a per-million-token price pair used to estimate request
// cost.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost estimates the dollar cost of a request at this pricing.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}
