package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/HUB)
// This allows mocking and decoupling from the concrete implementation
type Connector interface {
	GetID() uuid.UUID
	GetStreamID() string
	GetViewer() model.Viewer
	Send(ev event.Eventer, timeout time.Duration) bool // Thread-safe send with backpressure handling
	Recv() <-chan event.Eventer
	Dropped() uint64
	Close() // Terminate connection and release resources
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	Transport string // "ws" | "lp"
	RemoteIP  string
	UserAgent string
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id        uuid.UUID
	streamID  string
	viewer    model.Viewer
	metadata  ConnectMetadata
	createdAt time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	// mu guards sendCh against a concurrent Close; senders hold it for reading.
	mu        sync.RWMutex
	sendCh    chan event.Eventer
	closed    bool
	closeOnce sync.Once

	droppedCount uint64 // [ATOMIC_FIELD]
}

// NewConnector creates a viewer connection bound to a stream room.
func NewConnector(ctx context.Context, streamID string, viewer model.Viewer, meta ConnectMetadata, bufferSize int) Connector {
	childCtx, cancel := context.WithCancel(ctx)

	return &connect{
		id:        uuid.New(),
		streamID:  streamID,
		viewer:    viewer,
		metadata:  meta,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		sendCh:    make(chan event.Eventer, bufferSize),
	}
}

// --- IMPLEMENTATION OF CONNECTOR INTERFACE ---

func (c *connect) GetID() uuid.UUID        { return c.id }
func (c *connect) GetStreamID() string     { return c.streamID }
func (c *connect) GetViewer() model.Viewer { return c.viewer }
func (c *connect) Dropped() uint64         { return atomic.LoadUint64(&c.droppedCount) }

// Send attempts to push an event into the connection buffer.
// Delivery is best-effort: if the buffer stays saturated for the whole
// timeout the event is handed to the backpressure policy.
func (c *connect) Send(ev event.Eventer, timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// 1. [LIFECYCLE_GATE] Immediately abort if the underlying transport is already dead.
	if c.closed {
		return false
	}

	// [RESOURCE_MANAGEMENT] Localized timer enforces a strict delivery window so
	// the room actor is not held hostage by a single stalled viewer.
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return false

	// 2. [PRIMARY_DELIVERY]
	case c.sendCh <- ev:
		return true

	// 3. [BACKPRESSURE_THRESHOLD] Persistent slow consumer or network congestion.
	case <-timer.C:
		return c.handleBackpressure(ev)
	}
}

// handleBackpressure makes room for system signals by evicting the oldest
// buffered frame. Viewer events are simply dropped: the overlay is best-effort.
func (c *connect) handleBackpressure(ev event.Eventer) bool {
	if ev.GetPriority() < event.PriorityHigh {
		atomic.AddUint64(&c.droppedCount, 1)
		return false
	}

	select {
	case <-c.sendCh:
		atomic.AddUint64(&c.droppedCount, 1)
	default:
	}

	select {
	case c.sendCh <- ev:
		return true
	default:
		atomic.AddUint64(&c.droppedCount, 1)
		return false
	}
}

func (c *connect) Recv() <-chan event.Eventer { return c.sendCh }

// Close terminates the session and closes the receive channel.
func (c *connect) Close() {
	// [IDEMPOTENCY_SHIELD]
	// Ensures the teardown logic runs exactly once. This prevents "panic: close of closed channel"
	// when called concurrently by the Hub (shutdown), Room (eviction), or transport handler (defer).
	c.closeOnce.Do(func() {
		// 1. [SIGNAL_ABORT] Cancel the context to release any pending Send operations.
		c.cancelFn()

		// 2. [UPSTREAM_NOTIFY] Closing the channel signals the transport pump (via !ok)
		// to send a final 'disconnected' frame and exit the loop gracefully.
		c.mu.Lock()
		c.closed = true
		close(c.sendCh)
		c.mu.Unlock()
	})
}
