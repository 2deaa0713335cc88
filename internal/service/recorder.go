package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/sony/gobreaker"
)

// Recorder defines the contract of the persistence collaborator: recording
// tips and votes for later aggregation. Display never waits on it.
type Recorder interface {
	// Record stores the event if its kind is persisted; other kinds are ignored.
	Record(ctx context.Context, ev model.Event) error
	// Tally aggregates the recorded votes of one prompt.
	Tally(ctx context.Context, streamID, promptID string) (model.VoteTally, error)
}

// VoteStore is the storage surface the recorder needs.
type VoteStore interface {
	RecordTip(ctx context.Context, streamID, eventID string, tip *model.TipSent, at time.Time) error
	RecordVote(ctx context.Context, streamID, eventID string, vote *model.VoteCast, at time.Time) error
	VoteTally(ctx context.Context, streamID, promptID string) (model.VoteTally, error)
}

// ErrStoreUnavailable is returned while the circuit breaker is open.
var ErrStoreUnavailable = errors.New("recorder: store unavailable")

type BreakerRecorder struct {
	store VoteStore
	cb    *gobreaker.CircuitBreaker
	clock clockwork.Clock
}

// NewBreakerRecorder wraps store with a circuit breaker that opens after
// cfg.BreakerFailures consecutive failures and probes again after cfg.BreakerTimeout.
func NewBreakerRecorder(store VoteStore, cfg config.StoreConfig, clock clockwork.Clock, logger *slog.Logger) *BreakerRecorder {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "sqlite-recorder",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[RECORDER] breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &BreakerRecorder{store: store, cb: cb, clock: clock}
}

func (r *BreakerRecorder) Record(ctx context.Context, ev model.Event) error {
	var write func() error

	// [POLYMORPHIC_DISPATCH] only tips and votes are durable
	switch p := ev.Payload.(type) {
	case *model.TipSent:
		write = func() error { return r.store.RecordTip(ctx, ev.StreamID, ev.ID, p, r.clock.Now()) }
	case *model.VoteCast:
		write = func() error { return r.store.RecordVote(ctx, ev.StreamID, ev.ID, p, r.clock.Now()) }
	default:
		return nil
	}

	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, write()
	})
	return r.wrap(err)
}

func (r *BreakerRecorder) Tally(ctx context.Context, streamID, promptID string) (model.VoteTally, error) {
	res, err := r.cb.Execute(func() (interface{}, error) {
		return r.store.VoteTally(ctx, streamID, promptID)
	})
	if err != nil {
		return model.VoteTally{}, r.wrap(err)
	}
	return res.(model.VoteTally), nil
}

func (r *BreakerRecorder) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
