package tool

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/invopop/jsonschema"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
)

const (
	SaveLeadDetails = "save_lead_details"

	saveLeadDetailsDesc = "Save any lead details the user has shared so far. " +
		"Call this as soon as a detail first appears. Include only the keys you actually know."

	// AcknowledgmentContent is the synthetic tool result sent back on the
	// confirmation round-trip.
	AcknowledgmentContent = "Details saved. Proceed to the next identification step."
)

// SaveLeadArguments is the argument object of save_lead_details.
type SaveLeadArguments struct {
	Email            *string `json:"email,omitempty" jsonschema_description:"The user's business email address"`
	Name             *string `json:"name,omitempty" jsonschema_description:"The user's full name"`
	Company          *string `json:"company,omitempty" jsonschema_description:"The company or organization the user represents"`
	ServiceRequested *string `json:"service_requested,omitempty" jsonschema_description:"The product or service the user is interested in"`
	Summary          *string `json:"summary,omitempty" jsonschema_description:"A short summary of the user's needs"`
}

func (a SaveLeadArguments) Fields() lead.Fields {
	return lead.Fields{
		Email:            a.Email,
		Name:             a.Name,
		Company:          a.Company,
		ServiceRequested: a.ServiceRequested,
		Summary:          a.Summary,
	}.Normalize()
}

// Info describes save_lead_details for eino tool-calling models.
func Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: SaveLeadDetails,
		Desc: saveLeadDetailsDesc,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			string(lead.KeyEmail):            {Type: schema.String, Desc: "The user's business email address"},
			string(lead.KeyName):             {Type: schema.String, Desc: "The user's full name"},
			string(lead.KeyCompany):          {Type: schema.String, Desc: "The company or organization the user represents"},
			string(lead.KeyServiceRequested): {Type: schema.String, Desc: "The product or service the user is interested in"},
			string(lead.KeySummary):          {Type: schema.String, Desc: "A short summary of the user's needs"},
		}),
	}
}

func Description() string {
	return saveLeadDetailsDesc
}

// JSONSchema returns the parameter schema of save_lead_details as a plain map,
// the shape OpenAI-compatible function definitions expect.
func JSONSchema() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	s := reflector.Reflect(&SaveLeadArguments{})

	raw, err := s.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal tool schema: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode tool schema: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// ParseArguments decodes the raw argument JSON of a save_lead_details call.
// Blank values are dropped, so the result never clears a known field.
func ParseArguments(raw string) (*lead.Fields, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &lead.Fields{}, nil
	}

	var args SaveLeadArguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: invalid %s arguments: %v", contractx.ErrSchemaViolation, SaveLeadDetails, err)
	}
	fields := args.Fields()
	return &fields, nil
}
