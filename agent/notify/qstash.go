package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	qstashx "github.com/tanpawarit/lead-capture-agent/pkg/qstash"
)

type Publisher interface {
	Publish(ctx context.Context, destination string, payload any) (qstashx.PublishResult, error)
}

// QStashNotifier publishes qualified-lead snapshots through QStash.
type QStashNotifier struct {
	publisher   Publisher
	destination string
}

var _ contractx.LeadNotifier = (*QStashNotifier)(nil)

func NewQStashNotifier(publisher Publisher, destination string) (*QStashNotifier, error) {
	if publisher == nil {
		return nil, errors.New("qstash publisher is required")
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, errors.New("qstash destination is required")
	}
	return &QStashNotifier{publisher: publisher, destination: destination}, nil
}

type qualifiedEvent struct {
	Event string `json:"event"`
	contractx.LeadSnapshot
}

func (n *QStashNotifier) NotifyQualified(ctx context.Context, snapshot contractx.LeadSnapshot) error {
	res, err := n.publisher.Publish(ctx, n.destination, qualifiedEvent{
		Event:        "lead.qualified",
		LeadSnapshot: snapshot,
	})
	if err != nil {
		return fmt.Errorf("publish qualified lead %s: %w", snapshot.LeadID, err)
	}
	zerolog.Ctx(ctx).Debug().Str("lead_id", snapshot.LeadID).Str("message_id", res.MessageID).Msg("qualified lead published")
	return nil
}
