package wsmarshaller

import (
	"encoding/json"
	"fmt"

	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

// MarshallDeliveryEvent renders ev as a wire envelope text frame.
// The first connection to marshal an event caches the frame for the rest of the room.
func MarshallDeliveryEvent(ev event.Eventer) ([]byte, error) {
	if cached := ev.GetCached(); cached != nil {
		return cached, nil
	}

	data, err := json.Marshal(ev.GetPayload())
	if err != nil {
		return nil, fmt.Errorf("ws marshaller: %s payload: %w", ev.GetKind(), err)
	}

	frame, err := json.Marshal(&model.Envelope{
		Event:  ev.GetKind(),
		ID:     ev.GetID(),
		Stream: ev.GetStreamID(),
		SentAt: ev.GetOccurredAt(),
		Data:   data,
	})
	if err != nil {
		return nil, fmt.Errorf("ws marshaller: envelope: %w", err)
	}

	ev.SetCached(frame)
	return frame, nil
}
