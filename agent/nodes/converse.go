package dialoguenode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	metricsx "github.com/tanpawarit/lead-capture-agent/agent/metrics"
	promptx "github.com/tanpawarit/lead-capture-agent/agent/prompt"
)

// Converse runs the main model turn. A failed or empty reply degrades to the
// fixed apology; the turn never fails because of the model.
func Converse(
	ctx context.Context,
	in *GraphState,
	model contractx.ModelClient,
	instruction string,
	timeout time.Duration,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	resp, err := callModel(ctx, model, timeout, contractx.ConverseRequest{
		SystemInstruction: instruction,
		History:           in.History,
		Message:           in.Message,
	})
	if err == nil && resp.Reply == "" && !resp.HasExtraction() {
		err = fmt.Errorf("%w: empty reply", contractx.ErrSchemaViolation)
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("lead_id", in.LeadID).Str("op", "converse").Msg("model call failed")
		metricsx.RecordModelError("converse")
		in.ModelErr = err
		in.Reply = promptx.FallbackApology
		return in, nil
	}

	in.First = resp
	in.Extraction = resp.Extraction
	in.Reply = resp.Reply
	return in, nil
}

func callModel(
	ctx context.Context,
	model contractx.ModelClient,
	timeout time.Duration,
	req contractx.ConverseRequest,
) (contractx.ConverseResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return model.Converse(ctx, req)
}
