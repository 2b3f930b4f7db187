package lead

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Lead is the persistent record behind one conversation session.
// Transcript is append-only; Fields are last-write-wins per key.
type Lead struct {
	ID         string    `json:"id"`
	Fields     Fields    `json:"fields"`
	Transcript []Turn    `json:"transcript"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message in a transcript. Turns are never mutated after append.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTurn(role Role, content string, now time.Time) Turn {
	return Turn{
		Role:      role,
		Content:   content,
		Timestamp: now.UTC(),
	}
}

// Phase is the dialogue stage implied by which identification fields are known.
type Phase string

const (
	PhaseIdentifying Phase = "identifying"
	PhaseAdvisory    Phase = "advisory"
)

var (
	ErrSessionNotFound  = errors.New("lead session not found")
	ErrStoreUnavailable = errors.New("lead store unavailable")
	ErrInvalidSession   = errors.New("lead id is empty")
	ErrInvalidTurn      = errors.New("turn is invalid")
)

/* ------------------------------ Lead helpers ------------------------------ */

func (l *Lead) Phase() Phase {
	if l == nil {
		return PhaseIdentifying
	}
	return l.Fields.Phase()
}

// Apply sets every present key of fields on the record and bumps UpdatedAt.
// An empty patch leaves the record untouched.
func (l *Lead) Apply(fields Fields, now time.Time) {
	if l == nil || fields.IsEmpty() {
		return
	}
	l.Fields = l.Fields.Merge(fields)
	l.UpdatedAt = now.UTC()
}

func (l *Lead) AppendTurn(turn Turn, now time.Time) {
	if l == nil {
		return
	}
	l.Transcript = append(l.Transcript, turn)
	l.UpdatedAt = now.UTC()
}

// Clone returns a deep copy safe to hand out of a store.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	out := *l
	out.Fields = l.Fields.Clone()
	out.Transcript = append([]Turn(nil), l.Transcript...)
	return &out
}

func ValidateTurn(turn Turn) error {
	if !turn.Role.Valid() {
		return fmt.Errorf("%w: role=%q", ErrInvalidTurn, turn.Role)
	}
	if strings.TrimSpace(turn.Content) == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidTurn)
	}
	return nil
}
