package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/internal/adapter/pubsub"
	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/livecast/overlay-delivery-service/internal/domain/registry"
)

// ErrStreamRequired is returned when a viewer subscribes without a stream id.
var ErrStreamRequired = errors.New("delivery: stream id is required")

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (WebSocket/LongPoll)
type Deliverer interface {
	Subscribe(ctx context.Context, streamID string, viewer model.Viewer, meta registry.ConnectMetadata) (registry.Connector, error)
	Unsubscribe(streamID string, connID uuid.UUID)
	// Publish validates a viewer action and fans it out to every node.
	Publish(ctx context.Context, ev model.Event) error
	// TimeSync answers a current-time request with the server clock.
	TimeSync(streamID string, req *model.TimeSync) event.Eventer
	// Tally reads the recorded vote aggregate of one prompt.
	Tally(ctx context.Context, streamID, promptID string) (model.VoteTally, error)
}

type DeliveryService struct {
	hub          registry.Hubber
	dispatcher   pubsub.EventDispatcher
	recorder     Recorder
	clock        clockwork.Clock
	logger       *slog.Logger
	nodeID       string
	bufferSize   int
	writeTimeout time.Duration

	// writes tracks in-flight persistence so shutdown can drain them.
	writes sync.WaitGroup
}

// NewDeliveryService returns a production-ready instance of the service.
func NewDeliveryService(
	hub registry.Hubber,
	dispatcher pubsub.EventDispatcher,
	recorder Recorder,
	clock clockwork.Clock,
	cfg *config.Config,
	logger *slog.Logger,
) *DeliveryService {
	return &DeliveryService{
		hub:          hub,
		dispatcher:   dispatcher,
		recorder:     recorder,
		clock:        clock,
		logger:       logger,
		nodeID:       cfg.Server.NodeID,
		bufferSize:   cfg.Registry.ConnBuffer,
		writeTimeout: cfg.Store.WriteTimeout,
	}
}

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
func (s *DeliveryService) Subscribe(ctx context.Context, streamID string, viewer model.Viewer, meta registry.ConnectMetadata) (registry.Connector, error) {
	if strings.TrimSpace(streamID) == "" {
		return nil, ErrStreamRequired
	}

	// 1. Create a connector bound to the stream room
	conn := registry.NewConnector(ctx, streamID, viewer, meta, s.bufferSize)

	// 2. Attach to the room actor
	s.hub.Register(conn)

	return conn, nil
}

// [UNSUBSCRIBE] TRIGGERS CLEANUP
func (s *DeliveryService) Unsubscribe(streamID string, connID uuid.UUID) {
	// Hub.Unregister calls conn.Close(), which closes the Recv channel.
	s.hub.Unregister(streamID, connID)
}

// [PUBLISH] VALIDATE -> RELAY -> PERSIST (async)
func (s *DeliveryService) Publish(ctx context.Context, ev model.Event) error {
	if ev.Payload == nil {
		return fmt.Errorf("delivery: empty event")
	}
	if !ev.Kind().IsDomain() {
		return fmt.Errorf("delivery: %s cannot be published: %w", ev.Kind(), model.ErrUnknownKind)
	}
	if err := ev.Payload.Validate(); err != nil {
		return &model.MalformedEventError{Kind: ev.Kind(), Reason: "validation failed", Err: err}
	}
	if strings.TrimSpace(ev.StreamID) == "" {
		return ErrStreamRequired
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt == 0 {
		ev.OccurredAt = s.clock.Now().UnixMilli()
	}

	// [GLOBAL_DISPATCH] every node, this one included, broadcasts from the relay topic
	if err := s.dispatcher.Publish(ctx, event.NewViewerEventV1(ev, s.nodeID)); err != nil {
		return fmt.Errorf("delivery: %w", err)
	}

	s.persist(ev)
	return nil
}

// persist hands the event to the recorder without blocking the caller.
func (s *DeliveryService) persist(ev model.Event) {
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()
		// Recorder decorators log failures; display never depends on the outcome.
		_ = s.recorder.Record(ctx, ev)
	}()
}

// TimeSync echoes RequestedAt and stamps the authoritative server time.
func (s *DeliveryService) TimeSync(streamID string, req *model.TimeSync) event.Eventer {
	return event.NewSystemEvent(streamID, event.PriorityHigh, &model.TimeSync{
		RequestedAt: req.RequestedAt,
		ServerTime:  s.clock.Now().UnixMilli(),
	})
}

func (s *DeliveryService) Tally(ctx context.Context, streamID, promptID string) (model.VoteTally, error) {
	return s.recorder.Tally(ctx, streamID, promptID)
}

// Drain waits for in-flight persistence writes.
func (s *DeliveryService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("[DELIVERY] shutdown before pending writes finished")
		return ctx.Err()
	}
}
