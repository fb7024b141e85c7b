package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSubSender hands messages to a mail relay subscribed to a Pub/Sub topic.
type PubSubSender struct {
	topic *pubsub.Topic
}

// NewPubSubSender returns a sender publishing to topic.
func NewPubSubSender(topic *pubsub.Topic) (*PubSubSender, error) {
	if topic == nil {
		return nil, errors.New("pubsub sender: topic is required")
	}
	return &PubSubSender{topic: topic}, nil
}

func (s *PubSubSender) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := msg.validate(); err != nil {
		return SendResult{}, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return SendResult{}, fmt.Errorf("pubsub sender: marshal: %w", err)
	}
	id, err := s.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": "email", "to": msg.To},
	}).Get(ctx)
	if err != nil {
		return SendResult{}, fmt.Errorf("pubsub sender: publish: %w", err)
	}
	return SendResult{MessageID: id, Transport: "pubsub"}, nil
}
