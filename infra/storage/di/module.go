package storagedi

import (
	"context"

	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/infra/storage/sqlite"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"storage",

	// [CONSTRUCTOR] Opens the tip/vote store
	fx.Provide(func(cfg *config.Config) (*sqlite.Store, error) {
		return sqlite.Open(cfg.Store.DSN)
	}),

	// [LIFECYCLE] Release the database handle on app shutdown
	fx.Invoke(func(lc fx.Lifecycle, store *sqlite.Store) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return store.Close()
			},
		})
	}),
)
