package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/storefront/api/internal/services"
)

func newTestTopic(t *testing.T, id string) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, id)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubEventPublisherPublishesEvent(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, "fulfillment-events")

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	event := services.DomainEvent{
		ID:         "evt-1",
		Type:       services.EventTicketFinalized,
		Subject:    "TICKET-ABC-123456",
		UserID:     "user-1",
		Status:     "partially_completed",
		Amount:     2500,
		OccurredAt: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		Attributes: map[string]string{"items": "2"},
	}
	if err := publisher.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.DomainEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Subject != event.Subject || payload.Amount != 2500 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != services.EventTicketFinalized {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
	if messages[0].OrderingKey != event.Subject {
		t.Fatalf("expected ordering key %q, got %q", event.Subject, messages[0].OrderingKey)
	}
	if _, ok := messages[0].Attributes["userId"]; !ok {
		t.Fatalf("expected userId attribute")
	}
}

func TestPubSubEventPublisherRejectsUntypedEvents(t *testing.T) {
	_, topic := newTestTopic(t, "fulfillment-events")
	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}
	if err := publisher.Publish(context.Background(), services.DomainEvent{Subject: "x"}); err == nil {
		t.Fatalf("expected error for missing event type")
	}
}

func TestNewPubSubEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
