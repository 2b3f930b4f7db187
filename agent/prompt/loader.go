package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/tanpawarit/lead-capture-agent/agent/lead"
)

//go:embed template/lead.txt
var leadRaw string

// FallbackApology is returned when the model cannot produce a first reply.
const FallbackApology = "Sorry, I'm having trouble responding right now. Could you try again in a moment?"

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Lead string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Lead: strings.TrimSpace(leadRaw),
	}
}

var fieldQuestions = map[lead.FieldKey]string{
	lead.KeyCompany:          "which company are you with?",
	lead.KeyEmail:            "what's the best email to reach you at?",
	lead.KeyName:             "may I have your name?",
	lead.KeyServiceRequested: "which of our services are you most interested in?",
}

// FallbackPrompt asks for the next missing identification field. It is used
// when the confirmation round-trip after a saved extraction comes back empty.
func FallbackPrompt(known lead.Fields) string {
	missing := known.MissingIdentification()
	if len(missing) == 0 {
		return "Thanks, I've saved your details. How can I help you further?"
	}
	return fmt.Sprintf("Thanks, I've saved your details. To continue, %s", fieldQuestions[missing[0]])
}
