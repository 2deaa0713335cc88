package relay

import (
	"context"
	"time"

	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/service/dto"
	"github.com/livecast/overlay-delivery-service/internal/service/mapper"
)

// [ON_VIEWER_EVENT]
// Re-validates the relayed payload and prepares it for room broadcast.
func (h *RelayHandler) OnViewerEventV1(ctx context.Context, raw *dto.ViewerEventV1) (event.Eventer, error) {
	ev, err := mapper.FromViewerEventV1DTO(raw, time.Now())
	if err != nil {
		h.recorder.IncRejected(raw.Kind)
		return nil, err
	}
	return ev, nil
}
