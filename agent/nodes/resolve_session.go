package dialoguenode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
	metricsx "github.com/tanpawarit/lead-capture-agent/agent/metrics"
)

// ResolveSession durably logs the user's turn before the model runs. Unknown
// lead ids are healed by starting a new session; any other store failure is
// recorded on the state and the turn carries on.
func ResolveSession(ctx context.Context, in *GraphState, store lead.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	logger := zerolog.Ctx(ctx)
	userTurn := lead.NewTurn(lead.RoleUser, in.Message, in.Now)

	if in.RequestedLeadID == "" {
		createSession(ctx, in, store, userTurn, "new")
		return in, nil
	}

	err := store.AppendTurn(ctx, in.RequestedLeadID, userTurn)
	switch {
	case err == nil:
		in.LeadID = in.RequestedLeadID
		in.Status = contractx.StatusUpdated
	case errors.Is(err, lead.ErrSessionNotFound):
		logger.Warn().Str("lead_id", in.RequestedLeadID).Msg("unknown lead id, starting a new session")
		in.SelfHealed = true
		createSession(ctx, in, store, userTurn, "self_heal")
	default:
		logger.Error().Err(err).Str("lead_id", in.RequestedLeadID).Str("op", "append_user_turn").Msg("store write failed")
		metricsx.RecordStoreError("append_user_turn")
		// Keep the caller's id so the next turn can still reach the record.
		in.LeadID = in.RequestedLeadID
		in.markStoreError(err)
	}
	return in, nil
}

func createSession(ctx context.Context, in *GraphState, store lead.Store, first lead.Turn, reason string) {
	id, err := store.CreateSession(ctx, first)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("op", "create_session").Msg("store write failed")
		metricsx.RecordStoreError("create_session")
		in.markStoreError(err)
		return
	}
	metricsx.RecordSessionCreated(reason)
	in.LeadID = id
	in.Created = true
	in.Status = contractx.StatusCreated
}
