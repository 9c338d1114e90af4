package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/agriloop/api/internal/domain"
	"github.com/agriloop/api/internal/platform/textutil"
)

// PubSubDispatcher publishes lifecycle notifications to a Pub/Sub topic.
// Downstream consumers fan the messages out to push channels (FCM, SMS).
type PubSubDispatcher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubDispatcher constructs a Pub/Sub backed notification dispatcher.
func NewPubSubDispatcher(topic *pubsub.Topic) (*PubSubDispatcher, error) {
	if topic == nil {
		return nil, errors.New("pubsub dispatcher: topic is required")
	}
	return &PubSubDispatcher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type notificationPayload struct {
	RecipientID string            `json:"recipientId"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Category    string            `json:"category"`
	EntityID    string            `json:"entityId"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Send publishes the notification and waits for the broker acknowledgement.
func (d *PubSubDispatcher) Send(ctx context.Context, notification domain.Notification) error {
	if d == nil || d.topic == nil {
		return errors.New("pubsub dispatcher: not initialised")
	}

	data, err := d.marshal(notificationPayload{
		RecipientID: notification.RecipientID,
		Title:       notification.Title,
		Body:        notification.Body,
		Category:    string(notification.Category),
		EntityID:    notification.EntityID,
		Attributes:  textutil.NormalizeStringMap(notification.Attributes),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "recipientId", notification.RecipientID)
	setAttr(attrs, "category", string(notification.Category))
	setAttr(attrs, "entityId", notification.EntityID)

	result := d.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
