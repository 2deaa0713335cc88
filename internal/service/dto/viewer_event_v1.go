package dto

import (
	"encoding/json"
	"time"

	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

// [RELAY_V1] PAYLOAD CARRIED ON THE CROSS-NODE FAN-OUT TOPIC
type ViewerEventV1 struct {
	ID         string          `json:"id"`
	StreamID   string          `json:"stream_id"`
	Kind       string          `json:"kind"`
	OccurredAt int64           `json:"occurred_at"`
	Origin     string          `json:"origin"`
	Data       json.RawMessage `json:"data"`
}

// ToDomain re-validates the payload exactly as a viewer frame would be.
func (d *ViewerEventV1) ToDomain(receivedAt time.Time) (model.Event, error) {
	env := &model.Envelope{
		Event:  model.Kind(d.Kind),
		ID:     d.ID,
		Stream: d.StreamID,
		SentAt: d.OccurredAt,
		Data:   d.Data,
	}
	return env.ToEvent(receivedAt)
}
