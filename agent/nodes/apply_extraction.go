package dialoguenode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
	metricsx "github.com/tanpawarit/lead-capture-agent/agent/metrics"
)

// ApplyExtraction writes the extracted keys to the lead. Failures are logged
// and swallowed: they neither block the reply nor change the turn's status.
func ApplyExtraction(ctx context.Context, in *GraphState, store lead.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Extraction == nil {
		in.PhaseAfter = in.PhaseBefore
		return in, nil
	}

	metricsx.ExtractionsTotal.Inc()
	fields := in.Extraction.Normalize()
	in.Known = in.Known.Merge(fields)
	in.PhaseAfter = in.Known.Phase()

	logger := zerolog.Ctx(ctx)
	if in.LeadID == "" {
		logger.Warn().Str("op", "apply_fields").Msg("no lead id, extraction not persisted")
		return in, nil
	}
	if err := store.ApplyFields(ctx, in.LeadID, fields); err != nil {
		logger.Error().Err(err).Str("lead_id", in.LeadID).Str("op", "apply_fields").Msg("store write failed")
		metricsx.RecordStoreError("apply_fields")
		return in, nil
	}

	keys := make([]string, 0, len(fields.Values()))
	for _, kv := range fields.Values() {
		keys = append(keys, string(kv.Key))
	}
	logger.Info().Str("lead_id", in.LeadID).Strs("fields", keys).Str("phase", string(in.PhaseAfter)).Msg("lead fields saved")
	return in, nil
}
