package event

import (
	"fmt"
	"sync/atomic"

	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

var (
	_ Eventer    = (*ViewerEventV1)(nil)
	_ Exportable = (*ViewerEventV1)(nil)
)

// ViewerEventV1 is a viewer action (join, tip, trade, vote) travelling through
// the "Fan-out" pipeline: viewer socket -> relay bus -> every node -> every
// connection attached to the same stream room.
type ViewerEventV1 struct {
	ID         string        `json:"id"`
	StreamID   string        `json:"stream_id"`
	OccurredAt int64         `json:"occurred_at"`
	Kind       model.Kind    `json:"kind"`
	Payload    model.Payload `json:"-"`
	Origin     string        `json:"origin,omitempty"` // node that accepted the frame
	cached     atomic.Value
}

// NewViewerEventV1 binds a decoded domain event to its stream.
func NewViewerEventV1(ev model.Event, origin string) *ViewerEventV1 {
	return &ViewerEventV1{
		ID:         ev.ID,
		StreamID:   ev.StreamID,
		OccurredAt: ev.OccurredAt,
		Kind:       ev.Kind(),
		Payload:    ev.Payload,
		Origin:     origin,
	}
}

func (e *ViewerEventV1) GetID() string              { return e.ID }
func (e *ViewerEventV1) GetStreamID() string        { return e.StreamID }
func (e *ViewerEventV1) GetKind() model.Kind        { return e.Kind }
func (e *ViewerEventV1) GetPriority() EventPriority { return PriorityNormal }
func (e *ViewerEventV1) GetOccurredAt() int64       { return e.OccurredAt }
func (e *ViewerEventV1) GetPayload() model.Payload  { return e.Payload }
func (e *ViewerEventV1) SetCached(v []byte)         { e.cached.Store(v) }

func (e *ViewerEventV1) GetCached() []byte {
	v, _ := e.cached.Load().([]byte)
	return v
}

// GetRoutingKey builds the bus routing key.
// [PATTERN] overlay.v1.{stream_id}.{kind}
func (e *ViewerEventV1) GetRoutingKey() string {
	return fmt.Sprintf("overlay.v1.%s.%s", e.StreamID, e.Kind)
}
