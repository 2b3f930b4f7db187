package contract

import (
	"errors"

	"github.com/tanpawarit/lead-capture-agent/agent/lead"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrSchemaViolation  = errors.New("model response violates schema")
	ErrMalformedRequest = errors.New("malformed request")
	ErrValidation       = errors.New("validation failed")

	// Store failures are owned by the lead package; re-exported so callers
	// outside it can match every failure class from one place.
	ErrStoreUnavailable = lead.ErrStoreUnavailable
	ErrSessionNotFound  = lead.ErrSessionNotFound
)
