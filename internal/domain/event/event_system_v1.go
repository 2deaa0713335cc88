package event

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

// [GUARD] Ensure compliance with the Eventer interface.
var _ Eventer = (*SystemEvent)(nil)

// SystemEvent is a generic envelope for transport signals addressed to a single
// connection (handshake, time sync, termination). It is never exported to the bus.
type SystemEvent struct {
	id         string
	streamID   string
	priority   EventPriority
	occurredAt int64
	payload    model.Payload
	cached     atomic.Value
}

// [INTERFACE_IMPLEMENTATION]
func (e *SystemEvent) GetID() string              { return e.id }
func (e *SystemEvent) GetStreamID() string        { return e.streamID }
func (e *SystemEvent) GetKind() model.Kind        { return e.payload.Kind() }
func (e *SystemEvent) GetPriority() EventPriority { return e.priority }
func (e *SystemEvent) GetOccurredAt() int64       { return e.occurredAt }
func (e *SystemEvent) GetPayload() model.Payload  { return e.payload }
func (e *SystemEvent) SetCached(v []byte)         { e.cached.Store(v) }

func (e *SystemEvent) GetCached() []byte {
	v, _ := e.cached.Load().([]byte)
	return v
}

// NewSystemEvent is a universal factory for creating any signal.
func NewSystemEvent(streamID string, priority EventPriority, payload model.Payload) *SystemEvent {
	return &SystemEvent{
		id:         uuid.NewString(),
		streamID:   streamID,
		priority:   priority,
		occurredAt: time.Now().UnixMilli(),
		payload:    payload,
	}
}
