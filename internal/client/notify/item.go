package notify

import (
	"time"

	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

// Phase is the lifecycle position of a QueueItem.
type Phase int

const (
	PhasePending Phase = iota
	PhaseActive
	PhaseExiting
	PhaseDisposed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "PENDING"
	case PhaseActive:
		return "ACTIVE"
	case PhaseExiting:
		return "EXITING"
	case PhaseDisposed:
		return "DISPOSED"
	default:
		return "UNKNOWN"
	}
}

// QueueItem wraps one displayable event for the overlay feed.
type QueueItem struct {
	ID          string
	Event       model.Event
	Seq         uint64
	Fingerprint string
	EnqueuedAt  time.Time
	Display     model.Display
	Phase       Phase
}

// EnqueueResult is the outcome of Queue.Enqueue. Only Enqueued and Evicted
// change queue state.
type EnqueueResult int

const (
	Enqueued EnqueueResult = iota
	// Duplicate means the fingerprint was already seen within the window.
	Duplicate
	// Evicted means the item was appended after dropping the oldest pending item.
	Evicted
	// Ignored means the event kind has no overlay rendition.
	Ignored
)

func (r EnqueueResult) String() string {
	switch r {
	case Enqueued:
		return "enqueued"
	case Duplicate:
		return "duplicate"
	case Evicted:
		return "evicted"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}
