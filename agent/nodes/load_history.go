package dialoguenode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
	metricsx "github.com/tanpawarit/lead-capture-agent/agent/metrics"
)

// LoadHistory picks the model context for this turn. The stored transcript
// wins when the session already existed; otherwise the client's copy is used.
// Either way the welcome greeting and the new message itself are left out.
func LoadHistory(ctx context.Context, in *GraphState, store lead.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	if in.LeadID != "" && !in.Created && in.StoreErr == nil {
		record, err := store.GetLead(ctx, in.LeadID)
		if err == nil {
			in.Known = record.Fields.Clone()
			in.History = modelHistory(record.Transcript, in.Message)
			in.PhaseBefore = in.Known.Phase()
			return in, nil
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("lead_id", in.LeadID).Str("op", "get_lead").
			Msg("transcript unavailable, using client history")
		metricsx.RecordStoreError("get_lead")
	}

	in.History = modelHistory(in.ClientHistory, in.Message)
	in.PhaseBefore = in.Known.Phase()
	return in, nil
}

// modelHistory drops leading assistant turns (the synthetic welcome greeting)
// and the trailing copy of the message being answered.
func modelHistory(turns []lead.Turn, message string) []lead.Turn {
	start := 0
	for start < len(turns) && turns[start].Role == lead.RoleAssistant {
		start++
	}
	out := append([]lead.Turn(nil), turns[start:]...)

	if n := len(out); n > 0 && out[n-1].Role == lead.RoleUser && strings.TrimSpace(out[n-1].Content) == message {
		out = out[:n-1]
	}
	return out
}
