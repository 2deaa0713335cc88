// Package bus turns raw transport envelopes into typed events and fans them
// out to in-process listeners.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	"github.com/livecast/overlay-delivery-service/internal/client/transport"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

// Listener receives one typed event. Listeners run synchronously on the
// transport read pump in arrival order and must hand work off quickly.
type Listener func(ev model.Event)

// Transport is the slice of the transport client the adapter depends on.
type Transport interface {
	On(kind model.Kind, h transport.Handler) *transport.Subscription
	Emit(kind model.Kind, payload model.Payload) error
	StreamID() string
}

var _ Transport = (*transport.Client)(nil)

// routedKinds are decoded and delivered to kind listeners.
var routedKinds = []model.Kind{
	model.KindJoinStream,
	model.KindTipSent,
	model.KindTokenTraded,
	model.KindVoteCast,
	model.KindCurrentTime,
}

type Adapter struct {
	transport Transport
	clock     clockwork.Clock
	logger    *slog.Logger
	recorder  metrics.QueueRecorder

	seq atomic.Uint64

	mu        sync.RWMutex
	listeners map[model.Kind]map[uint64]Listener
	wildcard  map[uint64]Listener
	nextID    uint64
	upstream  []*transport.Subscription
	closed    bool
}

type Option func(*Adapter)

func WithClock(c clockwork.Clock) Option { return func(a *Adapter) { a.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.logger = l } }

func WithRecorder(r metrics.QueueRecorder) Option { return func(a *Adapter) { a.recorder = r } }

// New attaches the adapter to t. Close releases the transport subscriptions.
func New(t Transport, opts ...Option) *Adapter {
	a := &Adapter{
		transport: t,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		recorder:  metrics.NoopRecorder{},
		listeners: make(map[model.Kind]map[uint64]Listener),
		wildcard:  make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, kind := range routedKinds {
		a.upstream = append(a.upstream, t.On(kind, a.handle))
	}
	return a
}

// Subscribe registers listener for one kind. Several listeners per kind keep
// independent state and are called in registration order.
func (a *Adapter) Subscribe(kind model.Kind, listener Listener) *Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	id := a.nextID
	if a.listeners[kind] == nil {
		a.listeners[kind] = make(map[uint64]Listener)
	}
	a.listeners[kind][id] = listener

	return NewSubscription(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners[kind], id)
		if len(a.listeners[kind]) == 0 {
			delete(a.listeners, kind)
		}
	})
}

// SubscribeAll registers listener for every displayable viewer action.
func (a *Adapter) SubscribeAll(listener Listener) *Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	id := a.nextID
	a.wildcard[id] = listener

	return NewSubscription(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.wildcard, id)
	})
}

// Publish emits a local viewer action outward.
func (a *Adapter) Publish(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.Payload == nil {
		return errors.New("bus: event has no payload")
	}
	if err := ev.Payload.Validate(); err != nil {
		return fmt.Errorf("bus: publish %s: %w", ev.Kind(), err)
	}
	if err := a.transport.Emit(ev.Kind(), ev.Payload); err != nil {
		return fmt.Errorf("bus: publish %s: %w", ev.Kind(), err)
	}
	return nil
}

// Close releases every transport subscription and drops all listeners.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	upstream := a.upstream
	a.upstream = nil
	clear(a.listeners)
	clear(a.wildcard)
	a.mu.Unlock()

	for _, s := range upstream {
		s.Close()
	}
}

func (a *Adapter) handle(env *model.Envelope) {
	ev, err := env.ToEvent(a.clock.Now())
	if err != nil {
		// [DROP] a single bad frame never reaches listeners or callers
		var mErr *model.MalformedEventError
		if errors.As(err, &mErr) {
			a.recorder.IncMalformed()
		}
		a.logger.Warn("DECODE_FAILED",
			"stream_id", a.transport.StreamID(),
			"event_id", env.ID,
			"kind", env.Event,
			"err", err)
		return
	}
	if ev.StreamID == "" {
		ev.StreamID = a.transport.StreamID()
	}
	ev.Seq = a.seq.Add(1)

	for _, fn := range a.targets(ev.Kind()) {
		fn(ev)
	}
}

func (a *Adapter) targets(kind model.Kind) []Listener {
	a.mu.RLock()
	defer a.mu.RUnlock()

	byKind := a.listeners[kind]
	fns := make([]Listener, 0, len(byKind)+len(a.wildcard))
	for _, id := range slices.Sorted(maps.Keys(byKind)) {
		fns = append(fns, byKind[id])
	}
	if kind.IsDomain() {
		for _, id := range slices.Sorted(maps.Keys(a.wildcard)) {
			fns = append(fns, a.wildcard[id])
		}
	}
	return fns
}
