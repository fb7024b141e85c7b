package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/storefront/api/internal/services"
)

// PubSubEventPublisher publishes fulfillment domain events to a Pub/Sub topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.EventPublisher = (*PubSubEventPublisher)(nil)

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher. Ordering is keyed by
// subject so events of one ticket or order arrive in sequence.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Publish sends the event and waits for the server acknowledgement.
func (p *PubSubEventPublisher) Publish(ctx context.Context, event services.DomainEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	if strings.TrimSpace(event.Type) == "" {
		return errors.New("pubsub event publisher: event type is required")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "subject", event.Subject)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "status", event.Status)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: strings.TrimSpace(event.Subject),
	})

	if _, err := result.Get(ctx); err != nil {
		p.topic.ResumePublish(strings.TrimSpace(event.Subject))
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
