package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
	toolx "github.com/tanpawarit/lead-capture-agent/agent/tool"
)

// OpenAIClient talks to any OpenAI-compatible endpoint (OpenRouter by
// default) through the openai-go SDK.
type OpenAIClient struct {
	client      *openaisdk.Client
	model       string
	temperature float32
	maxTokens   int
	tool        openaisdk.ChatCompletionToolParam
}

var _ contractx.ModelClient = (*OpenAIClient)(nil)

func NewOpenAIClient(client *openaisdk.Client, cfg Config) (*OpenAIClient, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	params, err := toolx.JSONSchema()
	if err != nil {
		return nil, err
	}

	return &OpenAIClient{
		client:      client,
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxCompletionToken,
		tool: openaisdk.ChatCompletionToolParam{
			Function: openaisdk.FunctionDefinitionParam{
				Name:        toolx.SaveLeadDetails,
				Description: openaisdk.String(toolx.Description()),
				Parameters:  openaisdk.FunctionParameters(params),
			},
		},
	}, nil
}

func (c *OpenAIClient) Converse(ctx context.Context, req contractx.ConverseRequest) (contractx.ConverseResponse, error) {
	messages, err := openAIMessages(req)
	if err != nil {
		return contractx.ConverseResponse{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:       openaisdk.ChatModel(c.model),
		Messages:    messages,
		Tools:       []openaisdk.ChatCompletionToolParam{c.tool},
		Temperature: openaisdk.Float(float64(c.temperature)),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(c.maxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return contractx.ConverseResponse{}, fmt.Errorf("%w: chat completion: %v", contractx.ErrModelUnavailable, err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return contractx.ConverseResponse{}, fmt.Errorf("%w: chat completion has no choices", contractx.ErrSchemaViolation)
	}

	msg := completion.Choices[0].Message
	calls := make([]contractx.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, contractx.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return buildResponse(ctx, msg.Content, calls), nil
}

func openAIMessages(req contractx.ConverseRequest) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", contractx.ErrValidation)
	}

	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.History)+4)
	if instruction := strings.TrimSpace(req.SystemInstruction); instruction != "" {
		msgs = append(msgs, openaisdk.SystemMessage(instruction))
	}
	for _, turn := range req.History {
		switch turn.Role {
		case lead.RoleUser:
			msgs = append(msgs, openaisdk.UserMessage(turn.Content))
		case lead.RoleAssistant:
			msgs = append(msgs, openaisdk.AssistantMessage(turn.Content))
		}
	}
	msgs = append(msgs, openaisdk.UserMessage(message))

	if ack := req.Acknowledgment; ack != nil {
		assistant := openaisdk.ChatCompletionAssistantMessageParam{
			ToolCalls: []openaisdk.ChatCompletionMessageToolCallParam{{
				ID: ack.ToolCall.ID,
				Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
					Name:      ack.ToolCall.Name,
					Arguments: ack.ToolCall.Arguments,
				},
			}},
		}
		if reply := strings.TrimSpace(ack.Reply); reply != "" {
			assistant.Content.OfString = openaisdk.String(reply)
		}
		msgs = append(msgs,
			openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant},
			openaisdk.ToolMessage(ack.Content, ack.ToolCall.ID),
		)
	}
	return msgs, nil
}
