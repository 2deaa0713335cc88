package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/service/mapper"
)

// RoutingKeyHeader carries event.Exportable.GetRoutingKey on every relay message.
const RoutingKeyHeader = "routing_key"

// EventDispatcher defines the high-level contract for outgoing events.
// This allows the handler to stay agnostic of the transport implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, ev event.Eventer) error
	Publisher() message.Publisher
}

// eventDispatcher is the concrete implementation (private).
type eventDispatcher struct {
	publisher message.Publisher
	topic     string
	nodeID    string
}

// NewEventDispatcher returns the interface instead of the pointer to the struct.
func NewEventDispatcher(pub message.Publisher, topic, nodeID string) EventDispatcher {
	return &eventDispatcher{
		publisher: pub,
		topic:     topic,
		nodeID:    nodeID,
	}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev event.Eventer) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}

	exp, ok := ev.(event.Exportable)
	if !ok || exp.GetRoutingKey() == "" {
		return fmt.Errorf("event dispatcher: %s event is not exportable", ev.GetKind())
	}

	raw, err := mapper.ToViewerEventV1DTO(ev, d.nodeID)
	if err != nil {
		return fmt.Errorf("event dispatcher: %w", err)
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(RoutingKeyHeader, exp.GetRoutingKey())
	msg.SetContext(ctx)

	if err := d.publisher.Publish(d.topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", d.topic, err)
	}

	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
