package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/config"
	infrapubsub "github.com/livecast/overlay-delivery-service/infra/pubsub"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.uber.org/fx"
)

// NewLogger builds the process logger. The returned LevelVar lets a config
// reload change verbosity without rebuilding handlers.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, *slog.LevelVar, error) {
	level := new(slog.LevelVar)
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("log.level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch {
	case cfg.Exporter == "otel":
		// [OTEL_BRIDGE] records go to the globally registered LoggerProvider
		handler = otelslog.NewHandler(ServiceName)
	case strings.EqualFold(cfg.Format, "text"):
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", ServiceName),
		slog.String("namespace", ServiceNamespace),
	)
	return logger, level, nil
}

func setLevel(level *slog.LevelVar, s string) {
	if err := level.UnmarshalText([]byte(s)); err != nil {
		slog.Warn("CONFIG_RELOAD_REJECTED", "key", "log.level", "err", err)
	}
}

// resolveNodeID gives every process a stable identity for the relay bus.
func resolveNodeID(cfg *config.Config) {
	if cfg.Server.NodeID != "" {
		return
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	cfg.Server.NodeID = host + "-" + uuid.NewString()[:8]
}

func ProvideClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

func ProvidePubSub(lc fx.Lifecycle, cfg *config.Config, logger watermill.LoggerAdapter) (infrapubsub.Provider, error) {
	bus, err := infrapubsub.NewProvider(cfg.Bus, cfg.Server.NodeID, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return bus.Close()
		},
	})
	return bus, nil
}
