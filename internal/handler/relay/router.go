package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	infrapubsub "github.com/livecast/overlay-delivery-service/infra/pubsub"
	"github.com/livecast/overlay-delivery-service/internal/domain/registry"
)

const (
	// ------------------- HANDLERS ------------------------------
	HandlerViewerEvents = "ON_VIEWER_EVENT"

	// ------------------- TOPICS --------------------------------
	PoisonTopicSuffix = ".poison"

	seenCacheSize = 8192
)

type RelayHandler struct {
	hub      registry.Hubber
	logger   *slog.Logger
	recorder metrics.HubRecorder
	seen     *lru.Cache[string, struct{}]
}

func NewRelayHandler(hub registry.Hubber, logger *slog.Logger, recorder metrics.HubRecorder) (*RelayHandler, error) {
	// [MEMORY_MANAGEMENT] bounded set of recently broadcast event ids
	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("relay: seen cache: %w", err)
	}
	return &RelayHandler{hub: hub, logger: logger, recorder: recorder, seen: seen}, nil
}

// NewWatermillRouter builds the router with process-wide middleware.
func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("relay: router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	return router, nil
}

// [REGISTRATION_PIPELINE]
func (h *RelayHandler) RegisterHandlers(router *message.Router, bus infrapubsub.Provider, cfg *config.Config) error {
	poison, err := middleware.PoisonQueue(bus.Publisher(), cfg.Bus.Topic+PoisonTopicSuffix)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{HandlerViewerEvents, cfg.Bus.Topic, Bind(h, h.OnViewerEventV1)},
	}

	for _, c := range configs {
		router.AddConsumerHandler(c.name, c.topic, bus.Subscriber(), c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			NewRetryMiddleware().Middleware,
			poison,
			middleware.NewThrottle(1000, time.Second).Middleware,
			middleware.Timeout(time.Second*5),
		)
	}

	h.logger.Info("RELAY_PIPELINE_READY",
		"topic", cfg.Bus.Topic,
		"driver", bus.Driver(),
		"node_id", cfg.Server.NodeID)
	return nil
}
