// Package google adapts Google's Gemini API to the model.ChatModel
// contract.
package google

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/prospectiq/journey-go/journey/model"
)

// Model wraps the generative-ai-go client. Safe for concurrent use
// after creation; call Close when done.
type Model struct {
	client  *genai.Client
	model   string
	pricing model.Pricing
}

// New creates a Gemini-backed chat model. Unlike the other adapters the
// Google client dials at construction, so New takes a context and can
// fail.
func New(ctx context.Context, apiKey, modelName string) (*Model, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Model{client: client, model: modelName}, nil
}

// WithPricing sets the per-million-token prices used for cost
// estimation on each reply.
func (m *Model) WithPricing(p model.Pricing) *Model {
	m.pricing = p
	return m
}

// Close releases the underlying client connection.
func (m *Model) Close() error { return m.client.Close() }

// Name implements model.ChatModel.
func (m *Model) Name() string { return "google/" + m.model }

// Chat implements model.ChatModel.
func (m *Model) Chat(ctx context.Context, req model.Request) (model.ChatOut, error) {
	gm := m.client.GenerativeModel(m.model)
	if req.System != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		gm.SetTemperature(float32(req.Temperature))
	}

	resp, err := gm.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return model.ChatOut{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.ChatOut{}, fmt.Errorf("gemini returned no candidates")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}

	var in, out int
	if resp.UsageMetadata != nil {
		in = int(resp.UsageMetadata.PromptTokenCount)
		out = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return model.ChatOut{
		Text:         text,
		Model:        m.model,
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      m.pricing.Cost(in, out),
	}, nil
}
