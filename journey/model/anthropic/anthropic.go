// Package anthropic adapts Anthropic's Claude API to the model.ChatModel
// contract.
package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/prospectiq/journey-go/journey/model"
)

const defaultMaxTokens = 4096

// Model wraps the official anthropic-sdk-go client. Safe for concurrent
// use after creation.
type Model struct {
	client  *sdk.Client
	model   string
	pricing model.Pricing
}

// New creates a Claude-backed chat model. The API key comes from
// https://console.anthropic.com/.
func New(apiKey, modelName string) *Model {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Model{client: &client, model: modelName}
}

// WithPricing sets the per-million-token prices used for cost
// estimation on each reply.
func (m *Model) WithPricing(p model.Pricing) *Model {
	m.pricing = p
	return m
}

// Name implements model.ChatModel.
func (m *Model) Name() string { return "anthropic/" + m.model }

// Chat implements model.ChatModel.
func (m *Model) Chat(ctx context.Context, req model.Request) (model.ChatOut, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, err
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	in := int(message.Usage.InputTokens)
	out := int(message.Usage.OutputTokens)
	return model.ChatOut{
		Text:         text,
		Model:        m.model,
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      m.pricing.Cost(in, out),
	}, nil
}
