/*
Package registry provides the server-side fan-out hub for overlay events, based on the Actor Model.

Key Architectural Concepts:
  - Stream Rooms: Every live stream is represented by an isolated 'Room' (Actor) that
    encapsulates all viewer connections currently watching it.
  - Decoupling & Backpressure: Through per-room mailboxes, a slow viewer socket never
    blocks the relay consumer or viewers of other streams.
  - Computational Efficiency: Events are marshaled into the wire frame once and the
    cached bytes are reused by every connection of the room.
  - Concurrency Management: Lock-free room lookups via sync.Map and fine-grained
    locking inside individual rooms.
*/
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

var _ Roomer = (*Room)(nil)

// Roomer defines the internal API for stream-specific delivery units.
type Roomer interface {
	Push(ev event.Eventer) bool
	Attach(conn Connector) bool
	Detach(connID uuid.UUID) int
	IsIdle(timeout time.Duration) bool
	Stats() model.StreamStats
	Stop()
}

// Room implements [ISOLATED_DELIVERY] logic for a single stream.
type Room struct {
	// [IDENTITY]
	streamID string

	// [MAILBOX]
	// Buffered channel that decouples the relay consumer from individual delivery.
	mailbox chan event.Eventer

	// [SESSIONS]
	// Every viewer connection currently attached to the stream.
	sessions map[uuid.UUID]Connector

	// [CONCURRENCY_CONTROL]
	// RWMutex because delivery (read) outnumbers attach/detach (write).
	mu sync.RWMutex

	// [LIFECYCLE_CONTROL]
	doneCh   chan struct{}
	stopOnce sync.Once
	stopped  bool

	sendTimeout    time.Duration
	lastActivityAt time.Time
	recorder       metrics.HubRecorder

	delivered uint64 // [ATOMIC_FIELD]
	dropped   uint64 // [ATOMIC_FIELD]
}

func NewRoom(streamID string, mailboxSize int, sendTimeout time.Duration, recorder metrics.HubRecorder) *Room {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	r := &Room{
		streamID:       streamID,
		mailbox:        make(chan event.Eventer, mailboxSize), // [DYNAMIC_BUFFER]
		sessions:       make(map[uuid.UUID]Connector),
		doneCh:         make(chan struct{}),
		sendTimeout:    sendTimeout,
		lastActivityAt: time.Now(),
		recorder:       recorder,
	}
	go r.loop()
	return r
}

// IsIdle returns true if the room has no viewers and hasn't carried events lately.
func (r *Room) IsIdle(timeout time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions) == 0 && time.Since(r.lastActivityAt) > timeout
}

func (r *Room) touch() {
	r.mu.Lock()
	r.lastActivityAt = time.Now()
	r.mu.Unlock()
}

// Push enqueues an event for fan-out. It never blocks; a full mailbox drops the event.
func (r *Room) Push(ev event.Eventer) bool {
	r.touch()
	select {
	case <-r.doneCh:
		return false
	default:
	}
	select {
	case r.mailbox <- ev:
		return true
	default:
		atomic.AddUint64(&r.dropped, 1)
		r.recorder.IncDropped(metrics.DropMailboxFull)
		return false
	}
}

// Attach adds a connection. It returns false when the room has already been
// stopped by the janitor, in which case the caller must obtain a fresh room.
func (r *Room) Attach(conn Connector) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.lastActivityAt = time.Now()
	r.sessions[conn.GetID()] = conn
	return true
}

// Detach removes and closes a connection, returning the remaining count.
func (r *Room) Detach(connID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.sessions[connID]; ok {
		delete(r.sessions, connID)
		conn.Close()
	}
	r.lastActivityAt = time.Now()
	return len(r.sessions)
}

// stopIfIdle atomically marks an idle room as stopped so no Attach can race in.
func (r *Room) stopIfIdle(timeout time.Duration) bool {
	r.mu.Lock()
	if len(r.sessions) > 0 || time.Since(r.lastActivityAt) <= timeout {
		r.mu.Unlock()
		return false
	}
	r.stopped = true
	r.mu.Unlock()
	r.Stop()
	return true
}

func (r *Room) Stats() model.StreamStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return model.StreamStats{
		StreamID:    r.streamID,
		Connections: len(r.sessions),
		Delivered:   atomic.LoadUint64(&r.delivered),
		Dropped:     atomic.LoadUint64(&r.dropped),
	}
}

func (r *Room) connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Room) loop() {
	for {
		select {
		case <-r.doneCh:
			return
		case ev := <-r.mailbox:
			r.deliver(ev)
		}
	}
}

func (r *Room) deliver(ev event.Eventer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.sessions {
		if conn.Send(ev, r.sendTimeout) {
			atomic.AddUint64(&r.delivered, 1)
			r.recorder.IncDelivered(ev.GetKind().String())
			continue
		}
		atomic.AddUint64(&r.dropped, 1)
		r.recorder.IncDropped(metrics.DropSlowConsumer)
	}
}

// Stop terminates the actor goroutine and closes every attached connection.
func (r *Room) Stop() {
	r.stopOnce.Do(func() {
		close(r.doneCh)

		r.mu.Lock()
		r.stopped = true
		for id, conn := range r.sessions {
			conn.Close()
			delete(r.sessions, id)
		}
		r.mu.Unlock()
	})
}
