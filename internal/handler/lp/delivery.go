package lp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/infra/server/http/interceptors"
	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/domain/registry"
	lpmarshaller "github.com/livecast/overlay-delivery-service/internal/handler/marshaller/lp"
	"github.com/livecast/overlay-delivery-service/internal/service"
)

const maxBatch = 16

type LPHandler struct {
	deliverer service.Deliverer
	timeout   time.Duration
}

func NewLPHandler(deliverer service.Deliverer, cfg *config.Config) *LPHandler {
	return &LPHandler{
		deliverer: deliverer,
		timeout:   cfg.Server.PollTimeout,
	}
}

// Poll handles the long-polling request.
// It holds the connection until an event arrives or timeout occurs.
// Events published between two polls are not seen by the poller.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	// 1. Extract the stream (identity is resolved by the interceptor).
	streamID := strings.TrimSpace(chi.URLParam(r, "streamID"))
	if streamID == "" {
		http.Error(w, "invalid stream id", http.StatusBadRequest)
		return
	}
	viewer, _ := interceptors.GetViewer(r.Context())

	// 2. Temporary Subscription.
	// We create a connector that will live only for the duration of this HTTP request.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := h.deliverer.Subscribe(ctx, streamID, viewer, registry.ConnectMetadata{
		Transport: "lp",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}

	// Ensure cleanup: remove from registry when request finishes.
	defer h.deliverer.Unsubscribe(streamID, conn.GetID())

	var events []event.Eventer

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	// 3. Wait for data or timeout.
	select {
	case <-r.Context().Done():
		// Client disconnected.
		return

	case <-timer.C:
		// Standard Long-Polling timeout to prevent hanging connections.
		w.WriteHeader(http.StatusNoContent)
		return

	case ev, ok := <-conn.Recv():
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		events = append(events, ev)

		// Drain remaining events from buffer to provide batching.
		// This minimizes the number of subsequent HTTP requests.
	drainLoop:
		for len(events) < maxBatch {
			select {
			case nextEv, ok := <-conn.Recv():
				if !ok {
					break drainLoop
				}
				events = append(events, nextEv)
			default:
				break drainLoop
			}
		}
	}

	// 4. Final transmission.
	data, err := lpmarshaller.MarshallEvents(events)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
