package httpsrv

import (
	"context"

	"github.com/livecast/overlay-delivery-service/infra/storage/sqlite"
	"github.com/livecast/overlay-delivery-service/internal/handler/lp"
	"github.com/livecast/overlay-delivery-service/internal/handler/rest"
	"github.com/livecast/overlay-delivery-service/internal/handler/ws"
	"go.uber.org/fx"
)

var Module = fx.Module("http-server",
	fx.Provide(
		ws.NewWSHandler,
		lp.NewLPHandler,
		func(s *sqlite.Store) rest.Pinger { return s },
		rest.NewHandler,
		NewRouter,
		NewServer,
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return s.Start() },
			OnStop:  s.Stop,
		})
	}),
)
