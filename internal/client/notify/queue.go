// Package notify holds the per-session notification queue and the presenter
// that drains it one item at a time.
package notify

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

const (
	DefaultDedupWindow   = 3 * time.Second
	DefaultDedupCapacity = 1024
	DefaultMaxPending    = 100
)

// Queue is a FIFO of pending items plus at most one active item.
//
// It is not safe for concurrent use: every call must come from the session
// loop. Dismissal is by id so a late timer can never clear a newer item.
type Queue struct {
	pending []*QueueItem
	active  *QueueItem

	// fingerprint -> first sighting. The LRU bounds memory, the stored time
	// keeps the window measurable with an injected clock. No background
	// janitor runs, so a dropped queue leaves nothing behind.
	seen       *lru.Cache[string, time.Time]
	window     time.Duration
	maxPending int

	clock    clockwork.Clock
	logger   *slog.Logger
	recorder metrics.QueueRecorder
}

type QueueOption func(*Queue)

// WithDedup sets the duplicate suppression window and the number of
// fingerprints remembered. A zero window disables suppression.
func WithDedup(window time.Duration, capacity int) QueueOption {
	return func(q *Queue) {
		if window >= 0 {
			q.window = window
		}
		if capacity > 0 {
			q.seen = newSeen(capacity)
		}
	}
}

// WithMaxPending caps the pending sequence; 0 leaves it unbounded.
func WithMaxPending(n int) QueueOption {
	return func(q *Queue) {
		if n >= 0 {
			q.maxPending = n
		}
	}
}

func WithQueueClock(c clockwork.Clock) QueueOption {
	return func(q *Queue) { q.clock = c }
}

func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

func WithQueueRecorder(r metrics.QueueRecorder) QueueOption {
	return func(q *Queue) { q.recorder = r }
}

func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		window:     DefaultDedupWindow,
		maxPending: DefaultMaxPending,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		recorder:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.seen == nil {
		q.seen = newSeen(DefaultDedupCapacity)
	}
	return q
}

func newSeen(capacity int) *lru.Cache[string, time.Time] {
	// lru.New only fails on a non-positive size
	c, _ := lru.New[string, time.Time](capacity)
	return c
}

// Enqueue appends ev unless an identical event was seen within the window.
func (q *Queue) Enqueue(ev model.Event) (*QueueItem, EnqueueResult) {
	d, ok := ev.Displayable()
	if !ok {
		return nil, Ignored
	}

	now := q.clock.Now()
	fp := d.Fingerprint()
	if q.window > 0 {
		if first, ok := q.seen.Peek(fp); ok && now.Sub(first) < q.window {
			q.recorder.IncSuppressed(ev.Kind().String())
			q.logger.Debug("[QUEUE] duplicate suppressed", "fingerprint", fp, "seq", ev.Seq)
			return nil, Duplicate
		}
		q.seen.Add(fp, now)
	}

	item := &QueueItem{
		ID:          uuid.NewString(),
		Event:       ev,
		Seq:         ev.Seq,
		Fingerprint: fp,
		EnqueuedAt:  now,
		Display:     d.Display(),
		Phase:       PhasePending,
	}

	result := Enqueued
	if q.maxPending > 0 && len(q.pending) >= q.maxPending {
		dropped := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		dropped.Phase = PhaseDisposed
		result = Evicted

		q.recorder.IncEvicted()
		q.logger.Warn("[QUEUE] pending limit reached, oldest item evicted",
			"item_id", dropped.ID,
			"kind", dropped.Event.Kind(),
			"max_pending", q.maxPending)
	}

	q.pending = append(q.pending, item)
	q.recorder.IncEnqueued(ev.Kind().String())
	q.recorder.SetQueueDepth(q.Len())
	return item, result
}

// PeekActive returns the item on screen, if any.
func (q *Queue) PeekActive() *QueueItem { return q.active }

// Advance promotes the head of the pending sequence when nothing is active.
func (q *Queue) Advance() *QueueItem {
	if q.active != nil || len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	item.Phase = PhaseActive
	q.active = item
	return item
}

// MarkExiting flags the active item as leaving the screen. Mismatched ids are ignored.
func (q *Queue) MarkExiting(id string) bool {
	if q.active == nil || q.active.ID != id {
		return false
	}
	q.active.Phase = PhaseExiting
	return true
}

// DismissActive clears the active slot when id matches it. A stale or
// unknown id is a no-op.
func (q *Queue) DismissActive(id string) bool {
	if q.active == nil || q.active.ID != id {
		return false
	}
	q.active.Phase = PhaseDisposed
	q.active = nil
	q.recorder.SetQueueDepth(q.Len())
	return true
}

// Len counts pending items plus the active one.
func (q *Queue) Len() int {
	n := len(q.pending)
	if q.active != nil {
		n++
	}
	return n
}

// Pending returns a copy of the pending items in display order.
func (q *Queue) Pending() []*QueueItem {
	out := make([]*QueueItem, len(q.pending))
	copy(out, q.pending)
	return out
}

// Reset drops all state including remembered fingerprints.
func (q *Queue) Reset() {
	for _, it := range q.pending {
		it.Phase = PhaseDisposed
	}
	q.pending = nil
	if q.active != nil {
		q.active.Phase = PhaseDisposed
		q.active = nil
	}
	q.seen.Purge()
	q.recorder.SetQueueDepth(0)
}
