package dialoguenode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	promptx "github.com/tanpawarit/lead-capture-agent/agent/prompt"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		reply = promptx.FallbackApology
	}

	out := GraphOutput{
		Reply:  reply,
		LeadID: in.LeadID,
		Status: in.Status,
	}
	if out.Status == "" {
		out.Status = contractx.StatusError
	}
	if in.StoreErr != nil {
		out.Error = in.StoreErr.Error()
	}
	return out, nil
}
