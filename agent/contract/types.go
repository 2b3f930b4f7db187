package contract

import (
	"time"

	"github.com/tanpawarit/lead-capture-agent/agent/lead"
)

type PersistenceStatus string

const (
	StatusCreated PersistenceStatus = "success (new)"
	StatusUpdated PersistenceStatus = "success (updated)"
	StatusError   PersistenceStatus = "error"
)

func (s PersistenceStatus) Failed() bool {
	return s == StatusError
}

type ConverseRequest struct {
	SystemInstruction string
	History           []lead.Turn
	Message           string

	// Acknowledgment is set on the confirmation round-trip: the earlier tool
	// call is replayed together with its synthetic result.
	Acknowledgment *Acknowledgment
}

type ConverseResponse struct {
	Reply      string
	ToolCall   *ToolCall
	Extraction *lead.Fields
}

// HasExtraction reports whether the model asked to save lead details.
func (r ConverseResponse) HasExtraction() bool {
	return r.Extraction != nil
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Acknowledgment struct {
	ToolCall ToolCall
	// Reply is whatever text the model produced alongside the tool call.
	Reply   string
	Content string
}

type LeadSnapshot struct {
	LeadID      string      `json:"lead_id"`
	Fields      lead.Fields `json:"fields"`
	Phase       lead.Phase  `json:"phase"`
	QualifiedAt time.Time   `json:"qualified_at"`
}
