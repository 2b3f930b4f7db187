package dialoguenode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
)

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is empty", contractx.ErrMalformedRequest)
	}

	history := make([]lead.Turn, 0, len(in.History))
	for i, turn := range in.History {
		if !turn.Role.Valid() {
			return nil, fmt.Errorf("%w: history[%d] has unknown role %q", contractx.ErrMalformedRequest, i, turn.Role)
		}
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		history = append(history, turn)
	}

	return &GraphState{
		RequestedLeadID: strings.TrimSpace(in.LeadID),
		Message:         message,
		ClientHistory:   history,
		Now:             nowFn().UTC(),
		Clock:           nowFn,
	}, nil
}
