package relay

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/livecast/overlay-delivery-service/internal/adapter/pubsub"
	"github.com/livecast/overlay-delivery-service/internal/domain/event"
)

// DomainHandler defines the functional signature for relay decoding logic.
type DomainHandler[T any] func(ctx context.Context, payload *T) (event.Eventer, error)

// [INFRASTRUCTURE_BRIDGE]
// Bind connects Watermill to Domain logic, handling Panic Recovery, Locality, Dedup and Fan-out.
func Bind[T any](h *RelayHandler, fn DomainHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		// [PANIC_RECOVERY]
		// Safely handle runtime panics to keep the consumer alive.
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
			}
		}()

		// [IDENTIFICATION]
		// Extract the stream id from the routing key for routing decisions.
		streamID, ok := resolveStreamID(msg)
		if !ok {
			h.logger.Warn("ROUTING_FAILED: stream_missing", "msg_id", msg.UUID)
			return nil // ACK: Invalid routing is a terminal state.
		}

		// [LOCALITY_FILTER]
		// Distributed scaling: process only if the stream has viewers on THIS node.
		if !h.hub.IsActive(streamID) {
			return nil // ACK: Handled by another instance.
		}

		// [DECODING]
		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			h.logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
			return nil // ACK: Poison Pill protection.
		}

		// [EXECUTION]
		ev, err := fn(msg.Context(), payload)
		if err != nil {
			h.logger.Warn("RELAY_REJECTED", "err", err, "msg_id", msg.UUID, "stream_id", streamID)
			return nil // ACK: a frame that failed validation will never pass it.
		}
		if ev == nil {
			return nil
		}

		// [REDELIVERY_GUARD]
		// Broker redelivery after a lost ack must not show the event twice.
		if seen, _ := h.seen.ContainsOrAdd(ev.GetID(), struct{}{}); seen {
			h.logger.Debug("DUPLICATE_SKIPPED", "event_id", ev.GetID())
			return nil
		}

		// [FAN_OUT_DISPATCH] Local delivery into the stream room.
		if !h.hub.Broadcast(ev) {
			h.logger.Debug("BROADCAST_MISSED", "event_id", ev.GetID(), "stream_id", streamID)
		}
		return nil
	}
}

// resolveStreamID parses overlay.v1.{stream_id}.{kind}. Stream ids may contain dots.
func resolveStreamID(msg *message.Message) (string, bool) {
	rk := msg.Metadata.Get("x-routing-key")
	if rk == "" {
		rk = msg.Metadata.Get(pubsub.RoutingKeyHeader)
	}

	rest, ok := strings.CutPrefix(rk, "overlay.v1.")
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(rest, '.')
	if i <= 0 {
		return "", false
	}
	return rest[:i], true
}
