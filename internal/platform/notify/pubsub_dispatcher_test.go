package notify

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/agriloop/api/internal/domain"
)

func TestPubSubDispatcherPublishesNotification(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "lifecycle-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	dispatcher, err := NewPubSubDispatcher(topic)
	if err != nil {
		t.Fatalf("NewPubSubDispatcher: %v", err)
	}

	notification := domain.Notification{
		RecipientID: "farmer-1",
		Title:       "New offer received",
		Body:        "A buyer offered ₹80 for Rice Husk.",
		Category:    domain.NotificationCategoryNegotiation,
		EntityID:    "neg_01HZXK",
		Attributes:  map[string]string{"negotiatedPrice": "80"},
	}

	if err := dispatcher.Send(ctx, notification); err != nil {
		t.Fatalf("Send: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload notificationPayload
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.RecipientID != "farmer-1" || payload.EntityID != "neg_01HZXK" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.Category != string(domain.NotificationCategoryNegotiation) {
		t.Fatalf("unexpected category %q", payload.Category)
	}
	if attr := messages[0].Attributes["recipientId"]; attr != "farmer-1" {
		t.Fatalf("expected recipient attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["category"]; attr != "negotiation" {
		t.Fatalf("expected category attribute, got %q", attr)
	}
}

func TestNewPubSubDispatcherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubDispatcher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
