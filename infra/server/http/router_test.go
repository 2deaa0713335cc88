package httpsrv

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/livecast/overlay-delivery-service/internal/domain/registry"
	"github.com/livecast/overlay-delivery-service/internal/handler/lp"
	"github.com/livecast/overlay-delivery-service/internal/handler/rest"
	"github.com/livecast/overlay-delivery-service/internal/handler/ws"
	"github.com/livecast/overlay-delivery-service/internal/service"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopDispatcher struct{}

func (nopDispatcher) Publish(context.Context, event.Eventer) error { return nil }
func (nopDispatcher) Publisher() message.Publisher                { return nil }

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, model.Event) error { return nil }
func (nopRecorder) Tally(context.Context, string, string) (model.VoteTally, error) {
	return model.VoteTally{}, nil
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	hub := registry.NewHub()
	t.Cleanup(hub.Shutdown)

	cfg := &config.Config{
		Server: config.ServerConfig{
			NodeID:      "node-a",
			WSPath:      "/ws",
			ReadLimit:   4096,
			PollTimeout: 20 * time.Millisecond,
		},
		Registry: config.RegistryConfig{ConnBuffer: 4, SendTimeout: 100 * time.Millisecond},
		Store:    config.StoreConfig{WriteTimeout: time.Second},
	}
	logger := slog.Default()
	svc := service.NewDeliveryService(hub, nopDispatcher{}, nopRecorder{}, clockwork.NewRealClock(), cfg, logger)

	reg := prom.NewRegistry()
	return NewRouter(cfg, logger, reg,
		ws.NewWSHandler(logger, svc, metrics.NewPrometheusRecorder(reg), cfg),
		lp.NewLPHandler(svc, cfg),
		rest.NewHandler(svc, hub, okPinger{}, logger),
	)
}

func TestRouter_Mounts(t *testing.T) {
	h := newTestRouter(t)

	cases := []struct {
		path string
		code int
		body string
	}{
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/metrics", http.StatusOK, "overlay_hub_connections"},
		{"/api/v1/time", http.StatusOK, `"serverTime"`},
		{"/api/v1/stats", http.StatusOK, `"totalConnections"`},
		{"/api/v1/streams/s1/prompts/p1/tally", http.StatusOK, `"bullVotes"`},
		{"/api/v1/streams/s1/poll", http.StatusNoContent, ""},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			require.Equal(t, tc.code, rec.Code)
			if tc.body != "" {
				assert.Contains(t, rec.Body.String(), tc.body)
			}
		})
	}
}

func TestRouter_RealtimeRoutesResolveIdentity(t *testing.T) {
	h := newTestRouter(t)

	long := strings.Repeat("x", 65)
	for _, path := range []string{"/ws?stream=s1&username=" + long, "/api/v1/streams/s1/poll?username=" + long} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}
