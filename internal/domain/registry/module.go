package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(cfg *config.Config, logger *slog.Logger, rec metrics.HubRecorder) *Hub {
			return NewHub(
				WithEvictionInterval(cfg.Registry.EvictionInterval),
				WithIdleTimeout(cfg.Registry.IdleTimeout),
				WithMailboxSize(cfg.Registry.MailboxSize),
				WithSendTimeout(cfg.Registry.SendTimeout),
				WithRecorder(rec),
				WithLogger(logger),
			)
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
	),
	fx.Invoke(registerJanitor),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown() // [GRACEFUL_SHUTDOWN] Stop all room actors
				return nil
			},
		})
	}),
)

// registerJanitor schedules periodic idle-room eviction.
func registerJanitor(lc fx.Lifecycle, h *Hub, logger *slog.Logger) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("registry: create janitor scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(h.EvictionInterval()),
		gocron.NewTask(func() { h.EvictIdle() }),
		gocron.WithName("registry-janitor"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("registry: schedule janitor: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("[JANITOR] started", slog.Duration("interval", h.EvictionInterval()))
			s.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			return s.Shutdown()
		},
	})
	return nil
}
