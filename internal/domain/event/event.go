package event

import "github.com/livecast/overlay-delivery-service/internal/domain/model"

type EventPriority int32

const (
	PriorityLow    EventPriority = 10
	PriorityNormal EventPriority = 20
	PriorityHigh   EventPriority = 30
)

// Eventer defines the contract for all data packets flowing through the Hub.
type Eventer interface {
	GetID() string
	GetStreamID() string
	GetKind() model.Kind
	GetPriority() EventPriority
	GetOccurredAt() int64
	GetPayload() model.Payload
	// GetCached returns the wire frame computed by the first marshaller, if any.
	// Safe for concurrent use by the per-connection write pumps.
	GetCached() []byte
	SetCached([]byte)
}

// Exportable defines an event that should be re-published to the message bus.
type Exportable interface {
	// We return the key only if the event is ready to be exported.
	// If it returns an empty string, the binder will skip publishing.
	GetRoutingKey() string
}
