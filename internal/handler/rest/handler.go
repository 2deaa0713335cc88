// Package rest serves the small JSON API next to the real-time transports.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/livecast/overlay-delivery-service/internal/domain/registry"
	"github.com/livecast/overlay-delivery-service/internal/service"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	deliverer service.Deliverer
	hub       registry.Hubber
	store     Pinger
	logger    *slog.Logger
}

func NewHandler(deliverer service.Deliverer, hub registry.Hubber, store Pinger, logger *slog.Logger) *Handler {
	return &Handler{deliverer: deliverer, hub: hub, store: store, logger: logger}
}

// Tally returns the recorded bull/bear aggregate of one prompt.
func (h *Handler) Tally(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	promptID := chi.URLParam(r, "promptID")

	tally, err := h.deliverer.Tally(r.Context(), streamID, promptID)
	switch {
	case errors.Is(err, service.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "vote store unavailable")
		return
	case err != nil:
		h.logger.Error("TALLY_FAILED", "err", err, "stream_id", streamID, "prompt_id", promptID)
		writeError(w, http.StatusInternalServerError, "tally failed")
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

// Time is the HTTP twin of the current-time socket request.
func (h *Handler) Time(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"serverTime": time.Now().UnixMilli()})
}

// Stats exposes the hub occupancy.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"totalStreams":     stats.TotalStreams,
		"totalConnections": stats.TotalConnections,
		"uptime":           stats.Uptime.String(),
		"streams":          stats.Streams,
	})
}

// Healthz fails when the vote store does not answer. Live display does not
// depend on the store, so the hub is reported as degraded rather than down.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "store": "ok"}
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status["status"], status["store"] = "degraded", err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
