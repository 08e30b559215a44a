// Package openai implements the model gateway on the OpenAI chat completions
// API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/casualjim/herald/messages"
	"github.com/casualjim/herald/pkg/jsonx"
	"github.com/casualjim/herald/provider"
)

type Provider struct {
	client *openai.Client
	model  string
}

// New builds a gateway for the given model. Request options follow the
// openai-go conventions; passing none picks up OPENAI_API_KEY from the
// environment.
func New(model string, options ...option.RequestOption) *Provider {
	client := openai.NewClient(options...)
	return &Provider{
		client: client,
		model:  model,
	}
}

func (p *Provider) Complete(ctx context.Context, params provider.CompletionParams) (provider.Completion, error) {
	chatParams, err := p.buildRequest(&params)
	if err != nil {
		return provider.Completion{}, fmt.Errorf("failed to build request: %w", err)
	}

	chat, err := p.client.Chat.Completions.New(ctx, chatParams)
	if err != nil {
		return provider.Completion{}, err
	}
	if len(chat.Choices) == 0 {
		return provider.Completion{}, fmt.Errorf("model returned no choices")
	}

	choice := chat.Choices[0].Message
	if len(choice.ToolCalls) > 0 {
		tcd := make([]messages.ToolCallData, len(choice.ToolCalls))
		for i, tc := range choice.ToolCalls {
			tcd[i] = messages.ToolCallData{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
		}
		return provider.Completion{ToolCalls: tcd}, nil
	}
	return provider.Completion{Content: choice.Content}, nil
}

func (p *Provider) buildRequest(params *provider.CompletionParams) (openai.ChatCompletionNewParams, error) {
	result, user := messagesToOpenAI(params.Instructions, params.Messages)

	tools := make([]openai.ChatCompletionToolParam, len(params.Tools))
	for i, desc := range params.Tools {
		jv := map[string]any{"type": "object", "properties": map[string]any{}}
		if len(desc.InputSchema) > 0 {
			var err error
			jv, err = jsonx.ToDynamicJSON(desc.InputSchema)
			if err != nil {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("invalid schema for tool %s: %w", desc.FQName, err)
			}
		}

		def := openai.FunctionDefinitionParam{
			Name:       openai.String(desc.FQName),
			Parameters: openai.F(shared.FunctionParameters(jv)),
		}
		if strings.TrimSpace(desc.Description) != "" {
			def.Description = openai.String(desc.Description)
		}

		tools[i] = openai.ChatCompletionToolParam{
			Type:     openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(def),
		}
	}

	oaiParams := openai.ChatCompletionNewParams{
		Messages:    openai.F(result),
		Model:       openai.F(p.model),
		N:           openai.Int(1),
		Temperature: openai.Float(params.Temperature),
	}
	if len(tools) > 0 {
		oaiParams.Tools = openai.F(tools)
		oaiParams.ParallelToolCalls = openai.Bool(true)
	}
	if strings.TrimSpace(user) != "" {
		oaiParams.User = openai.String(user)
	}

	return oaiParams, nil
}

func messagesToOpenAI(instructions string, history []messages.Message) ([]openai.ChatCompletionMessageParamUnion, string) {
	result := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(instructions),
	}
	var user string
	for _, message := range history {
		switch msg := message.(type) {
		case messages.UserPrompt:
			if msg.Sender != "" {
				user = msg.Sender
			}
			if msg.Content != "" {
				result = append(result, openai.UserMessageParts(openai.TextPart(msg.Content)))
			}
		case messages.AssistantMessage:
			am := openai.ChatCompletionAssistantMessageParam{
				Role: openai.F(openai.ChatCompletionAssistantMessageParamRoleAssistant),
			}
			if msg.Content != "" {
				am.Content.Value = append(am.Content.Value, openai.TextPart(msg.Content))
			}
			result = append(result, am)
		case messages.ToolCallMessage:
			tcd := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				tcd[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   openai.String(tc.ID),
					Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
					Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      openai.String(tc.Name),
						Arguments: openai.String(tc.Arguments),
					}),
				}
			}
			result = append(result, openai.ChatCompletionMessageParam{
				Role:      openai.F(openai.ChatCompletionMessageParamRoleAssistant),
				ToolCalls: openai.F[any](tcd),
			})
		case messages.ToolResponse:
			result = append(result, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}
	return result, user
}
