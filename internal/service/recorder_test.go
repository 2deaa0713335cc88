package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/infra/storage/sqlite"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{ calls int }

func (f *failingStore) RecordTip(context.Context, string, string, *model.TipSent, time.Time) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingStore) RecordVote(context.Context, string, string, *model.VoteCast, time.Time) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingStore) VoteTally(context.Context, string, string) (model.VoteTally, error) {
	f.calls++
	return model.VoteTally{}, errors.New("disk full")
}

func TestBreakerRecorder_WithSQLite(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	rec := NewRecorderMiddleware(
		NewBreakerRecorder(store, config.StoreConfig{BreakerTimeout: time.Minute}, clockwork.NewRealClock(), slog.Default()),
		slog.Default(),
	)
	ctx := context.Background()

	vote := func(id string, bull bool) model.Event {
		return model.Event{ID: id, StreamID: "s1", Payload: &model.VoteCast{
			Viewer: model.Viewer{Username: "alice"}, VoteAmount: 10, IsBull: bull, PromptID: "p1",
		}}
	}
	require.NoError(t, rec.Record(ctx, vote("e1", true)))
	require.NoError(t, rec.Record(ctx, vote("e2", false)))
	// join is not persisted
	require.NoError(t, rec.Record(ctx, model.Event{ID: "e3", StreamID: "s1", Payload: &model.JoinStream{Viewer: model.Viewer{Username: "a"}}}))

	tally, err := rec.Tally(ctx, "s1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tally.BullVotes)
	assert.Equal(t, int64(1), tally.BearVotes)
}

func TestBreakerRecorder_OpensAfterConsecutiveFailures(t *testing.T) {
	store := &failingStore{}
	rec := NewBreakerRecorder(store, config.StoreConfig{BreakerFailures: 2, BreakerTimeout: time.Minute}, clockwork.NewRealClock(), slog.Default())
	tip := model.Event{ID: "e1", StreamID: "s1", Payload: &model.TipSent{Viewer: model.Viewer{Username: "a"}, TipAmount: 1}}

	ctx := context.Background()
	assert.Error(t, rec.Record(ctx, tip))
	assert.Error(t, rec.Record(ctx, tip))

	err := rec.Record(ctx, tip)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 2, store.calls, "open breaker must not reach the store")
}
