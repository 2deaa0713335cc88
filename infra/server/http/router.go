package httpsrv

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	"github.com/livecast/overlay-delivery-service/infra/server/http/interceptors"
	"github.com/livecast/overlay-delivery-service/internal/handler/lp"
	"github.com/livecast/overlay-delivery-service/internal/handler/rest"
	"github.com/livecast/overlay-delivery-service/internal/handler/ws"
	prom "github.com/prometheus/client_golang/prometheus"
)

// NewRouter mounts every HTTP surface of the service.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	reg *prom.Registry,
	wsHandler *ws.WSHandler,
	lpHandler *lp.LPHandler,
	api *rest.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", api.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.HTTPHandler(reg))

	// [REALTIME] identity is resolved once for both transports
	r.Group(func(r chi.Router) {
		r.Use(interceptors.NewViewerIdentityMiddleware())
		r.Method(http.MethodGet, cfg.Server.WSPath, wsHandler)
		r.Get("/api/v1/streams/{streamID}/poll", lpHandler.Poll)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/time", api.Time)
		r.Get("/stats", api.Stats)
		r.Get("/streams/{streamID}/prompts/{promptID}/tally", api.Tally)
	})

	return r
}

// requestLogger logs non-upgrade requests at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP_REQUEST",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
