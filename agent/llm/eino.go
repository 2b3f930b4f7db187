package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
	toolx "github.com/tanpawarit/lead-capture-agent/agent/tool"
)

// EinoClient drives a tool-calling eino chat model bound to save_lead_details.
type EinoClient struct {
	runner compose.Runnable[contractx.ConverseRequest, *schema.Message]
}

var _ contractx.ModelClient = (*EinoClient)(nil)

func NewEinoClient(ctx context.Context, chatModel einomodel.ToolCallingChatModel) (*EinoClient, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	toolModel, err := chatModel.WithTools([]*schema.ToolInfo{toolx.Info()})
	if err != nil {
		return nil, fmt.Errorf("%w: bind lead tool: %v", contractx.ErrModelUnavailable, err)
	}

	runner, err := compileConverseGraph(ctx, toolModel)
	if err != nil {
		return nil, err
	}
	return &EinoClient{runner: runner}, nil
}

func (c *EinoClient) Converse(ctx context.Context, req contractx.ConverseRequest) (contractx.ConverseResponse, error) {
	msg, err := c.runner.Invoke(ctx, req)
	if err != nil {
		return contractx.ConverseResponse{}, fmt.Errorf("%w: converse: %v", contractx.ErrModelUnavailable, err)
	}
	if msg == nil {
		return contractx.ConverseResponse{}, fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)
	}

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

func compileConverseGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
) (compose.Runnable[contractx.ConverseRequest, *schema.Message], error) {
	graph := compose.NewGraph[contractx.ConverseRequest, *schema.Message]()

	if err := graph.AddLambdaNode("build_messages",
		compose.InvokableLambda(func(ctx context.Context, req contractx.ConverseRequest) ([]*schema.Message, error) {
			return einoMessages(req)
		}),
	); err != nil {
		return nil, fmt.Errorf("add converse build_messages node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add converse model node: %w", err)
	}

	edges := [][2]string{
		{compose.START, "build_messages"},
		{"build_messages", "model"},
		{"model", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add converse edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("llm.converse"))
	if err != nil {
		return nil, fmt.Errorf("compile converse graph: %w", err)
	}
	return runner, nil
}

func einoMessages(req contractx.ConverseRequest) ([]*schema.Message, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", contractx.ErrValidation)
	}

	msgs := make([]*schema.Message, 0, len(req.History)+4)
	if instruction := strings.TrimSpace(req.SystemInstruction); instruction != "" {
		msgs = append(msgs, schema.SystemMessage(instruction))
	}
	for _, turn := range req.History {
		switch turn.Role {
		case lead.RoleUser:
			msgs = append(msgs, schema.UserMessage(turn.Content))
		case lead.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(turn.Content, nil))
		}
	}
	msgs = append(msgs, schema.UserMessage(message))

	if ack := req.Acknowledgment; ack != nil {
		msgs = append(msgs,
			schema.AssistantMessage(ack.Reply, []schema.ToolCall{{
				ID:   ack.ToolCall.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      ack.ToolCall.Name,
					Arguments: ack.ToolCall.Arguments,
				},
			}}),
			schema.ToolMessage(ack.Content, ack.ToolCall.ID),
		)
	}
	return msgs, nil
}
