package contract

import "context"

// ModelClient runs one model turn: system instruction, prior history and the
// new message in; reply text and at most one lead extraction out.
type ModelClient interface {
	Converse(ctx context.Context, req ConverseRequest) (ConverseResponse, error)
}

// LeadNotifier is told about leads that just became qualified. Calls are
// fire-and-forget from the controller's point of view.
type LeadNotifier interface {
	NotifyQualified(ctx context.Context, snapshot LeadSnapshot) error
}

type NoopNotifier struct{}

func (NoopNotifier) NotifyQualified(context.Context, LeadSnapshot) error {
	return nil
}

var _ LeadNotifier = NoopNotifier{}
