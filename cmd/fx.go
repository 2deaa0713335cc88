package cmd

import (
	"log/slog"

	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	httpsrv "github.com/livecast/overlay-delivery-service/infra/server/http"
	storagedi "github.com/livecast/overlay-delivery-service/infra/storage/di"
	"github.com/livecast/overlay-delivery-service/internal/domain/registry"
	"github.com/livecast/overlay-delivery-service/internal/handler/relay"
	"github.com/livecast/overlay-delivery-service/internal/service"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// NewApp assembles the hub. Extra options are appended after the modules.
func NewApp(cfg *config.Config, logger *slog.Logger, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Supply(cfg, logger),
		fx.Provide(
			ProvideClock,
			ProvideWatermillLogger,
			ProvidePubSub,
		),
		metrics.Module,
		storagedi.Module,
		registry.Module,
		service.Module,
		relay.Module,
		httpsrv.Module,
	}
	return fx.New(append(opts, extra...)...)
}
