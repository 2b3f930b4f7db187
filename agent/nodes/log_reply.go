package dialoguenode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
	metricsx "github.com/tanpawarit/lead-capture-agent/agent/metrics"
)

// LogReply appends the assistant's reply to the transcript, best-effort.
func LogReply(ctx context.Context, in *GraphState, store lead.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.LeadID == "" || in.Reply == "" {
		return in, nil
	}

	turn := lead.NewTurn(lead.RoleAssistant, in.Reply, in.now())
	if err := store.AppendTurn(ctx, in.LeadID, turn); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("lead_id", in.LeadID).Str("op", "append_reply").Msg("store write failed")
		metricsx.RecordStoreError("append_reply")
		in.markStoreError(err)
	}
	return in, nil
}
