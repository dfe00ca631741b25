// Package openai adapts OpenAI's chat completions API to the
// model.ChatModel contract.
package openai

import (
	"context"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/prospectiq/journey-go/journey/model"
)

// Model wraps the official openai-go client. Safe for concurrent use
// after creation.
type Model struct {
	client  *sdk.Client
	model   string
	pricing model.Pricing
}

// New creates an OpenAI-backed chat model.
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
func (m *Model) Name() string { return "openai/" + m.model }

// Chat implements model.ChatModel.
func (m *Model) Chat(ctx context.Context, req model.Request) (model.ChatOut, error) {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, sdk.ChatCompletionMessageParamUnion{
			OfSystem: &sdk.ChatCompletionSystemMessageParam{
				Content: sdk.ChatCompletionSystemMessageParamContentUnion{
					OfString: sdk.String(req.System),
				},
			},
		})
	}
	messages = append(messages, sdk.ChatCompletionMessageParamUnion{
		OfUser: &sdk.ChatCompletionUserMessageParam{
			Content: sdk.ChatCompletionUserMessageParamContentUnion{
				OfString: sdk.String(req.Prompt),
			},
		},
	})

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, err
	}

	var text string
	if len(completion.Choices) > 0 {
		text = completion.Choices[0].Message.Content
	}

	in := int(completion.Usage.PromptTokens)
	out := int(completion.Usage.CompletionTokens)
	return model.ChatOut{
		Text:         text,
		Model:        m.model,
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      m.pricing.Cost(in, out),
	}, nil
}
