package mapper

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/service/dto"
)

// ToViewerEventV1DTO flattens an exportable event into its relay form.
func ToViewerEventV1DTO(ev event.Eventer, origin string) (*dto.ViewerEventV1, error) {
	if ev.GetPayload() == nil {
		return nil, fmt.Errorf("mapper: event %s has no payload", ev.GetID())
	}
	data, err := json.Marshal(ev.GetPayload())
	if err != nil {
		return nil, fmt.Errorf("mapper: marshal %s payload: %w", ev.GetKind(), err)
	}
	return &dto.ViewerEventV1{
		ID:         ev.GetID(),
		StreamID:   ev.GetStreamID(),
		Kind:       ev.GetKind().String(),
		OccurredAt: ev.GetOccurredAt(),
		Origin:     origin,
		Data:       data,
	}, nil
}

// FromViewerEventV1DTO rebuilds the broadcastable event on the receiving node.
func FromViewerEventV1DTO(raw *dto.ViewerEventV1, receivedAt time.Time) (*event.ViewerEventV1, error) {
	ev, err := raw.ToDomain(receivedAt)
	if err != nil {
		return nil, err
	}
	if !ev.Kind().IsDomain() {
		return nil, fmt.Errorf("mapper: %s is not a relayable kind", ev.Kind())
	}
	return event.NewViewerEventV1(ev, raw.Origin), nil
}
