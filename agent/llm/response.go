package llm

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	toolx "github.com/tanpawarit/lead-capture-agent/agent/tool"
)

// buildResponse keeps the first save_lead_details call and drops the rest.
// A call with undecodable arguments is ignored rather than failing the turn.
func buildResponse(ctx context.Context, content string, calls []contractx.ToolCall) contractx.ConverseResponse {
	resp := contractx.ConverseResponse{Reply: strings.TrimSpace(content)}

	for _, call := range calls {
		if strings.TrimSpace(call.Name) != toolx.SaveLeadDetails {
			zerolog.Ctx(ctx).Warn().Str("tool", call.Name).Msg("ignoring unknown tool call")
			continue
		}
		fields, err := toolx.ParseArguments(call.Arguments)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("tool", call.Name).Msg("ignoring malformed tool call")
			continue
		}
		tc := call
		resp.ToolCall = &tc
		resp.Extraction = fields
		break
	}
	return resp
}
