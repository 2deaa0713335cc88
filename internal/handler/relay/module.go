package relay

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/livecast/overlay-delivery-service/config"
	infrapubsub "github.com/livecast/overlay-delivery-service/infra/pubsub"
	"github.com/livecast/overlay-delivery-service/internal/adapter/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("relay-handler",
	fx.Provide(
		func(bus infrapubsub.Provider, cfg *config.Config) pubsub.EventDispatcher {
			return pubsub.NewEventDispatcher(bus.Publisher(), cfg.Bus.Topic, cfg.Server.NodeID)
		},

		NewRelayHandler,
		NewWatermillRouter,
	),

	fx.Invoke(
		func(h *RelayHandler, router *message.Router, bus infrapubsub.Provider, cfg *config.Config) error {
			return h.RegisterHandlers(router, bus, cfg)
		},
		runRouter,
	),
)

// runRouter starts consuming on app start and waits until handlers are subscribed.
func runRouter(lc fx.Lifecycle, router *message.Router) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			go func() { errCh <- router.Run(ctx) }()
			select {
			case <-router.Running():
				return nil
			case err := <-errCh:
				return fmt.Errorf("relay: router stopped: %w", err)
			case <-startCtx.Done():
				return startCtx.Err()
			}
		},
		OnStop: func(context.Context) error {
			cancel()
			return router.Close()
		},
	})
}
