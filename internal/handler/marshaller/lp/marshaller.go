package lpmarshaller

import (
	"encoding/json"

	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	wsmarshaller "github.com/livecast/overlay-delivery-service/internal/handler/marshaller/ws"
)

// Response defines the top-level JSON array to support event batching.
// Each element is the same envelope a WebSocket client receives.
type Response struct {
	Events []json.RawMessage `json:"events"`
}

// MarshallEvents converts a slice of domain events into a single JSON batch.
func MarshallEvents(events []event.Eventer) ([]byte, error) {
	res := Response{
		Events: make([]json.RawMessage, 0, len(events)),
	}

	for _, ev := range events {
		frame, err := wsmarshaller.MarshallDeliveryEvent(ev)
		if err != nil {
			return nil, err
		}
		res.Events = append(res.Events, frame)
	}

	return json.Marshal(res)
}
