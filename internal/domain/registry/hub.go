package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

var _ Hubber = (*Hub)(nil)

// Hubber defines the gateway for viewer connection management and event routing.
type Hubber interface {
	Broadcast(ev event.Eventer) bool
	Register(conn Connector)
	Unregister(streamID string, connID uuid.UUID)
	IsActive(streamID string) bool
	EvictIdle() int
	Stats() model.HubStats
	Shutdown()
}

type hubConfig struct {
	evictionInterval time.Duration
	idleTimeout      time.Duration
	mailboxSize      int
	sendTimeout      time.Duration
}

// Hub implements a [SCALABLE_REGISTRY] using the stream Room pattern.
type Hub struct {
	// rooms stores Map[string]*Room keyed by stream id. Optimized for [READ_HEAVY] workloads.
	rooms     sync.Map
	config    hubConfig
	startedAt time.Time
	recorder  metrics.HubRecorder
	logger    *slog.Logger
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config: hubConfig{
			evictionInterval: 5 * time.Minute,
			idleTimeout:      10 * time.Minute,
			mailboxSize:      1024,
			sendTimeout:      500 * time.Millisecond,
		},
		startedAt: time.Now(),
		recorder:  metrics.NoopRecorder{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// EvictionInterval is how often the janitor should call EvictIdle.
func (h *Hub) EvictionInterval() time.Duration { return h.config.evictionInterval }

func (h *Hub) IsActive(streamID string) bool {
	_, ok := h.rooms.Load(streamID)
	return ok
}

// Broadcast routes event to the stream [ROOM]. Returns false on miss or overflow.
func (h *Hub) Broadcast(ev event.Eventer) bool {
	if val, ok := h.rooms.Load(ev.GetStreamID()); ok {
		return val.(*Room).Push(ev)
	}
	return false
}

// Register ensures [IDEMPOTENT] room creation and attaches a new transport.
func (h *Hub) Register(conn Connector) {
	streamID := conn.GetStreamID()
	for {
		room := h.room(streamID)
		if room.Attach(conn) {
			break
		}
		// [RACE_WITH_JANITOR] the room was evicted between lookup and attach.
		h.rooms.CompareAndDelete(streamID, room)
	}
	h.refreshGauges()
}

// room returns the live room for a stream, creating it lazily.
func (h *Hub) room(streamID string) *Room {
	if val, ok := h.rooms.Load(streamID); ok {
		return val.(*Room)
	}
	fresh := NewRoom(streamID, h.config.mailboxSize, h.config.sendTimeout, h.recorder)
	val, loaded := h.rooms.LoadOrStore(streamID, fresh)
	if loaded {
		fresh.Stop()
	} else {
		h.logger.Debug("[HUB] room created", slog.String("stream_id", streamID))
	}
	return val.(*Room)
}

// Unregister detaches a connection. Empty rooms are left for the janitor so a
// quick reconnect does not churn the actor goroutine.
func (h *Hub) Unregister(streamID string, connID uuid.UUID) {
	if val, ok := h.rooms.Load(streamID); ok {
		val.(*Room).Detach(connID)
	}
	h.refreshGauges()
}

// EvictIdle performs [GRACEFUL_RECLAMATION] of rooms with no viewers and no recent traffic.
func (h *Hub) EvictIdle() int {
	evicted := 0
	h.rooms.Range(func(key, val any) bool {
		room := val.(*Room)
		if room.stopIfIdle(h.config.idleTimeout) {
			h.rooms.CompareAndDelete(key, room)
			evicted++
		}
		return true
	})
	if evicted > 0 {
		h.logger.Info("[JANITOR] idle rooms evicted", slog.Int("count", evicted))
		h.refreshGauges()
	}
	return evicted
}

func (h *Hub) Stats() model.HubStats {
	stats := model.HubStats{Uptime: time.Since(h.startedAt)}
	h.rooms.Range(func(_, val any) bool {
		s := val.(*Room).Stats()
		stats.TotalStreams++
		stats.TotalConnections += s.Connections
		stats.Streams = append(stats.Streams, s)
		return true
	})
	sort.Slice(stats.Streams, func(i, j int) bool { return stats.Streams[i].StreamID < stats.Streams[j].StreamID })
	return stats
}

// Shutdown stops every room actor and closes all viewer connections.
func (h *Hub) Shutdown() {
	h.rooms.Range(func(key, val any) bool {
		val.(*Room).Stop()
		h.rooms.Delete(key)
		return true
	})
	h.refreshGauges()
}

func (h *Hub) refreshGauges() {
	streams, conns := 0, 0
	h.rooms.Range(func(_, val any) bool {
		streams++
		conns += val.(*Room).connections()
		return true
	})
	h.recorder.SetStreams(streams)
	h.recorder.SetConnections(conns)
}
