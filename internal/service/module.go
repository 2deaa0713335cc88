package service

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/infra/storage/sqlite"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		NewDeliveryService,
		fx.Annotate(
			func(s *DeliveryService) Deliverer { return s },
			fx.As(new(Deliverer)),
		),
		func(store *sqlite.Store, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) Recorder {
			return NewBreakerRecorder(store, cfg.Store, clock, logger)
		},
	),

	// [DECORATION_LAYER] Intercept Recorder to add cross-cutting concerns
	fx.Decorate(func(orig Recorder, logger *slog.Logger) Recorder {
		return NewRecorderMiddleware(orig, logger)
	}),

	fx.Invoke(func(lc fx.Lifecycle, s *DeliveryService) {
		lc.Append(fx.Hook{
			OnStop: s.Drain,
		})
	}),
)
