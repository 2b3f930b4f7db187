package dialogue

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	nodex "github.com/tanpawarit/lead-capture-agent/agent/nodes"
)

const (
	nodeConfirmExtraction = "confirm_extraction"
	nodeLogReply          = "log_reply"
)

func (c *Controller) compileHandleTurnGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, c.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("resolve_session",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ResolveSession(ctx, in, c.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_session: %w", err)
	}

	if err := graph.AddLambdaNode("load_history",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadHistory(ctx, in, c.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_history: %w", err)
	}

	if err := graph.AddLambdaNode("converse",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Converse(ctx, in, c.model, c.instruction, c.modelTimeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node converse: %w", err)
	}

	if err := graph.AddLambdaNode("apply_extraction",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ApplyExtraction(ctx, in, c.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node apply_extraction: %w", err)
	}

	if err := graph.AddLambdaNode("notify_qualified",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.NotifyQualified(ctx, in, c.notifier, c.notifyTimeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node notify_qualified: %w", err)
	}

	if err := graph.AddLambdaNode(nodeConfirmExtraction,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ConfirmExtraction(ctx, in, c.model, c.instruction, c.modelTimeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeConfirmExtraction, err)
	}

	if err := graph.AddLambdaNode(nodeLogReply,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LogReply(ctx, in, c.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeLogReply, err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	// Only a successful first call with an extraction gets the confirmation
	// round-trip; everything else goes straight to logging the reply.
	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if in == nil {
				return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
			}
			if in.ModelErr == nil && in.Extraction != nil {
				return nodeConfirmExtraction, nil
			}
			return nodeLogReply, nil
		},
		map[string]bool{
			nodeConfirmExtraction: true,
			nodeLogReply:          true,
		},
	)
	if err := graph.AddBranch("notify_qualified", branch); err != nil {
		return nil, fmt.Errorf("add confirmation branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "resolve_session"},
		{"resolve_session", "load_history"},
		{"load_history", "converse"},
		{"converse", "apply_extraction"},
		{"apply_extraction", "notify_qualified"},
		{nodeConfirmExtraction, nodeLogReply},
		{nodeLogReply, "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("dialogue.handle_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile dialogue graph: %w", err)
	}
	return runner, nil
}
