package dialoguenode

import (
	"time"

	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
)

type GraphInput struct {
	LeadID  string
	Message string
	// History is the client's copy of the conversation, used when the
	// stored transcript is unavailable.
	History []lead.Turn
}

type GraphOutput struct {
	Reply  string
	LeadID string
	Status contractx.PersistenceStatus
	Error  string
}

// GraphState is threaded through every node of one turn.
type GraphState struct {
	RequestedLeadID string
	Message         string
	ClientHistory   []lead.Turn
	// Now is when the user turn was received.
	Now             time.Time
	// Clock stamps turns captured later in the turn, such as the reply.
	Clock           func() time.Time

	LeadID     string
	Created    bool
	SelfHealed bool
	Status     contractx.PersistenceStatus
	StoreErr   error

	History []lead.Turn
	Known   lead.Fields

	First       contractx.ConverseResponse
	ModelErr    error
	Extraction  *lead.Fields
	PhaseBefore lead.Phase
	PhaseAfter  lead.Phase

	Reply string
}

// Qualified reports whether this turn's extraction moved the lead into the
// advisory phase.
func (s *GraphState) Qualified() bool {
	return s.Extraction != nil &&
		s.PhaseBefore == lead.PhaseIdentifying &&
		s.PhaseAfter == lead.PhaseAdvisory
}

// now reads the turn clock, falling back to the receive time.
func (s *GraphState) now() time.Time {
	if s.Clock == nil {
		return s.Now
	}
	return s.Clock().UTC()
}

func (s *GraphState) markStoreError(err error) {
	if err == nil {
		return
	}
	s.Status = contractx.StatusError
	if s.StoreErr == nil {
		s.StoreErr = err
	}
}
