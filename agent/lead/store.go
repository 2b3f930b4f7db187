package lead

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Store is the persistence contract used by the dialogue controller.
//
// AppendTurn must be atomic on the backend: two concurrent appends for the
// same id both land, in some order, and neither is lost.
type Store interface {
	CreateSession(ctx context.Context, initial Turn) (string, error)
	AppendTurn(ctx context.Context, id string, turn Turn) error
	ApplyFields(ctx context.Context, id string, fields Fields) error
	GetLead(ctx context.Context, id string) (*Lead, error)
	Close() error
}

func newLeadID() string {
	return uuid.NewString()
}

func normalizeID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", ErrInvalidSession
	}
	return trimmed, nil
}
