package lead

import (
	"fmt"
	"strings"
)

type FieldKey string

const (
	KeyEmail            FieldKey = "email"
	KeyName             FieldKey = "name"
	KeyCompany          FieldKey = "company"
	KeyServiceRequested FieldKey = "service_requested"
	KeySummary          FieldKey = "summary"
)

// AllFields lists every lead field in storage order.
var AllFields = []FieldKey{
	KeyEmail,
	KeyName,
	KeyCompany,
	KeyServiceRequested,
	KeySummary,
}

// IdentificationOrder is the order in which missing identification fields
// are asked for when the model cannot phrase the follow-up itself.
var IdentificationOrder = []FieldKey{
	KeyCompany,
	KeyEmail,
	KeyName,
	KeyServiceRequested,
}

// Fields is a partial set of lead attributes. A nil pointer means "absent";
// only non-nil keys take part in Merge, which is what makes an extraction a
// partial update rather than a replacement.
type Fields struct {
	Email            *string `json:"email,omitempty"`
	Name             *string `json:"name,omitempty"`
	Company          *string `json:"company,omitempty"`
	ServiceRequested *string `json:"service_requested,omitempty"`
	Summary          *string `json:"summary,omitempty"`
}

// FieldValue is one present key of a Fields value.
type FieldValue struct {
	Key   FieldKey
	Value string
}

func ParseFieldKey(raw string) (FieldKey, error) {
	name := FieldKey(strings.TrimSpace(raw))
	for _, f := range AllFields {
		if f == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown lead field %q", raw)
}

func (f FieldKey) String() string { return string(f) }

func (f Fields) IsEmpty() bool {
	return f.Email == nil && f.Name == nil && f.Company == nil &&
		f.ServiceRequested == nil && f.Summary == nil
}

func (f *Fields) ref(name FieldKey) **string {
	switch name {
	case KeyEmail:
		return &f.Email
	case KeyName:
		return &f.Name
	case KeyCompany:
		return &f.Company
	case KeyServiceRequested:
		return &f.ServiceRequested
	case KeySummary:
		return &f.Summary
	default:
		return nil
	}
}

// Get returns the value of name and whether it is present.
func (f Fields) Get(name FieldKey) (string, bool) {
	p := f.ref(name)
	if p == nil || *p == nil {
		return "", false
	}
	return **p, true
}

// Set marks name as present with value.
func (f *Fields) Set(name FieldKey, value string) error {
	p := f.ref(name)
	if p == nil {
		return fmt.Errorf("unknown lead field %q", name)
	}
	v := value
	*p = &v
	return nil
}

func (f Fields) Has(name FieldKey) bool {
	_, ok := f.Get(name)
	return ok
}

// Merge returns f with every present key of patch written over it.
func (f Fields) Merge(patch Fields) Fields {
	out := f.Clone()
	for _, kv := range patch.Values() {
		_ = out.Set(kv.Key, kv.Value)
	}
	return out
}

func (f Fields) Clone() Fields {
	var out Fields
	for _, kv := range f.Values() {
		_ = out.Set(kv.Key, kv.Value)
	}
	return out
}

// Values lists present keys in AllFields order.
func (f Fields) Values() []FieldValue {
	out := make([]FieldValue, 0, len(AllFields))
	for _, name := range AllFields {
		if v, ok := f.Get(name); ok {
			out = append(out, FieldValue{Key: name, Value: v})
		}
	}
	return out
}

// Normalize trims values and drops blank ones, so a model emitting "" for a
// key never clears a field that is already known.
func (f Fields) Normalize() Fields {
	var out Fields
	for _, kv := range f.Values() {
		v := strings.TrimSpace(kv.Value)
		if v == "" {
			continue
		}
		_ = out.Set(kv.Key, v)
	}
	return out
}

func (f Fields) Phase() Phase {
	if f.Has(KeyEmail) && f.Has(KeyCompany) {
		return PhaseAdvisory
	}
	return PhaseIdentifying
}

// MissingIdentification returns absent identification fields in asking order.
func (f Fields) MissingIdentification() []FieldKey {
	var out []FieldKey
	for _, name := range IdentificationOrder {
		if !f.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

func StringPtr(s string) *string {
	return &s
}
