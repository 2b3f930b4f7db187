package dialoguenode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	metricsx "github.com/tanpawarit/lead-capture-agent/agent/metrics"
)

// NotifyQualified announces a lead that just reached the advisory phase.
// Delivery runs detached from the request so it never delays the reply.
func NotifyQualified(
	ctx context.Context,
	in *GraphState,
	notifier contractx.LeadNotifier,
	timeout time.Duration,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if notifier == nil || in.LeadID == "" || !in.Qualified() {
		return in, nil
	}

	metricsx.QualifiedLeadsTotal.Inc()
	snapshot := contractx.LeadSnapshot{
		LeadID:      in.LeadID,
		Fields:      in.Known.Clone(),
		Phase:       in.PhaseAfter,
		QualifiedAt: in.now(),
	}
	logger := zerolog.Ctx(ctx).With().Str("lead_id", in.LeadID).Str("op", "notify_qualified").Logger()

	go func() {
		nctx := context.WithoutCancel(ctx)
		if timeout > 0 {
			var cancel context.CancelFunc
			nctx, cancel = context.WithTimeout(nctx, timeout)
			defer cancel()
		}
		if err := notifier.NotifyQualified(nctx, snapshot); err != nil {
			logger.Error().Err(err).Msg("qualified lead notification failed")
			return
		}
		logger.Info().Msg("qualified lead notification sent")
	}()
	return in, nil
}
