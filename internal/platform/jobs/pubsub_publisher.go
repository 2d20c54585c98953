package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/maisonverte/api/internal/services"
)

// PubSubEmailPublisher publishes outbound email messages to a Pub/Sub topic.
// A worker outside this service renders and delivers them.
type PubSubEmailPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEmailPublisher constructs a Pub/Sub backed email publisher.
func NewPubSubEmailPublisher(topic *pubsub.Topic) (*PubSubEmailPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub email publisher: topic is required")
	}
	return &PubSubEmailPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishEmail enqueues one email message on the configured topic and returns
// the Pub/Sub message id.
func (p *PubSubEmailPublisher) PublishEmail(ctx context.Context, message services.EmailMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub email publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal email message: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", string(message.Kind))
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "orderNumber", message.OrderNumber)
	setAttr(attrs, "recipient", message.Recipient)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish email message: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
