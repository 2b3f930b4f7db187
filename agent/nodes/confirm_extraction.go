package dialoguenode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	metricsx "github.com/tanpawarit/lead-capture-agent/agent/metrics"
	promptx "github.com/tanpawarit/lead-capture-agent/agent/prompt"
	toolx "github.com/tanpawarit/lead-capture-agent/agent/tool"
)

// ConfirmExtraction sends the tool acknowledgment back to the model and uses
// its answer as the final reply. An empty or failed answer falls back to
// asking for the next missing identification field.
func ConfirmExtraction(
	ctx context.Context,
	in *GraphState,
	model contractx.ModelClient,
	instruction string,
	timeout time.Duration,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	ack := &contractx.Acknowledgment{
		Reply:   in.First.Reply,
		Content: toolx.AcknowledgmentContent,
	}
	if in.First.ToolCall != nil {
		ack.ToolCall = *in.First.ToolCall
	} else {
		ack.ToolCall = contractx.ToolCall{Name: toolx.SaveLeadDetails}
	}

	resp, err := callModel(ctx, model, timeout, contractx.ConverseRequest{
		SystemInstruction: instruction,
		History:           in.History,
		Message:           in.Message,
		Acknowledgment:    ack,
	})
	if err != nil || resp.Reply == "" {
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("lead_id", in.LeadID).Str("op", "confirm").Msg("model call failed")
			metricsx.RecordModelError("confirm")
		}
		in.Reply = promptx.FallbackPrompt(in.Known)
		return in, nil
	}

	in.Reply = resp.Reply
	return in, nil
}
