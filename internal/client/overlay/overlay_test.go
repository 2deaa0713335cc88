package overlay

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/internal/client/bus"
	"github.com/livecast/overlay-delivery-service/internal/client/loop"
	"github.com/livecast/overlay-delivery-service/internal/client/notify"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mu       sync.Mutex
	byKind   map[model.Kind][]*bus.Listener
	wildcard []*bus.Listener
}

func newFakeBus() *fakeBus { return &fakeBus{byKind: make(map[model.Kind][]*bus.Listener)} }

func (b *fakeBus) Subscribe(kind model.Kind, l bus.Listener) *bus.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref := &l
	b.byKind[kind] = append(b.byKind[kind], ref)
	return b.handle(ref)
}

func (b *fakeBus) SubscribeAll(l bus.Listener) *bus.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref := &l
	b.wildcard = append(b.wildcard, ref)
	return b.handle(ref)
}

func (b *fakeBus) handle(ref *bus.Listener) *bus.Subscription {
	return bus.NewSubscription(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		*ref = nil
	})
}

func (b *fakeBus) publish(ev model.Event) {
	b.mu.Lock()
	var fns []bus.Listener
	for _, ref := range b.byKind[ev.Kind()] {
		if *ref != nil {
			fns = append(fns, *ref)
		}
	}
	if ev.Kind().IsDomain() {
		for _, ref := range b.wildcard {
			if *ref != nil {
				fns = append(fns, *ref)
			}
		}
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type fakeRenderer struct {
	mu        sync.Mutex
	shown     []string
	sentiment []SentimentView
	markets   []MarketsView
}

func (r *fakeRenderer) Show(it *notify.QueueItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, it.Display.Text)
}

func (r *fakeRenderer) Exit(*notify.QueueItem) {}

func (r *fakeRenderer) Clear() {}

func (r *fakeRenderer) RenderSentiment(v SentimentView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sentiment = append(r.sentiment, v)
}

func (r *fakeRenderer) RenderMarkets(v MarketsView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets = append(r.markets, v)
}

func (r *fakeRenderer) lastSentiment() (SentimentView, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sentiment) == 0 {
		return SentimentView{}, 0
	}
	return r.sentiment[len(r.sentiment)-1], len(r.sentiment)
}

func voteEvent(user string, bull bool, amount float64) model.Event {
	return model.Event{Payload: &model.VoteCast{
		Viewer:     model.Viewer{Username: user},
		VoteAmount: amount,
		IsBull:     bull,
		PromptID:   "p1",
	}}
}

func flush(t *testing.T, l *loop.Loop) {
	t.Helper()
	require.NoError(t, l.Do(context.Background(), func() {}))
}

func TestPopupOverlay_FeedsPresenter(t *testing.T) {
	l := loop.New(slog.Default())
	defer l.Stop()
	clock := clockwork.NewFakeClock()
	b := newFakeBus()
	r := &fakeRenderer{}

	q := notify.NewQueue(notify.WithQueueClock(clock))
	p := notify.NewPresenter("popup", q, l, r, notify.WithPresenterClock(clock))
	popup := NewPopupOverlay(b, l, q, p, slog.Default())

	b.publish(model.Event{Payload: &model.TipSent{Viewer: model.Viewer{Username: "alice"}, TipAmount: 5}})
	b.publish(model.Event{Payload: &model.TipSent{Viewer: model.Viewer{Username: "alice"}, TipAmount: 5}})
	b.publish(model.Event{Payload: &model.JoinStream{Viewer: model.Viewer{Username: "bob"}}})
	flush(t, l)

	var n int
	require.NoError(t, l.Do(context.Background(), func() { n = q.Len() }))
	assert.Equal(t, 2, n)
	r.mu.Lock()
	assert.Equal(t, []string{"alice tipped 5"}, r.shown)
	r.mu.Unlock()

	popup.Close()
	popup.Close()
	require.NoError(t, l.Do(context.Background(), func() { assert.Equal(t, notify.StateIdle, p.State()) }))

	b.publish(model.Event{Payload: &model.JoinStream{Viewer: model.Viewer{Username: "carol"}}})
	flush(t, l)
	require.NoError(t, l.Do(context.Background(), func() { n = q.Len() }))
	assert.Equal(t, 2, n, "closed overlay no longer listens")
}

func TestSentimentOverlay_TalliesIndependently(t *testing.T) {
	l := loop.New(slog.Default())
	defer l.Stop()
	clock := clockwork.NewFakeClock()
	b := newFakeBus()
	r := &fakeRenderer{}

	s := NewSentimentOverlay(b, l, r, "s1", 3*time.Second, clock, slog.Default())
	defer s.Close()

	var popupVotes int
	b.SubscribeAll(func(model.Event) { popupVotes++ })

	b.publish(voteEvent("alice", true, 10))
	b.publish(voteEvent("bob", false, 4))
	b.publish(voteEvent("carol", true, 6))
	flush(t, l)

	require.NoError(t, l.Do(context.Background(), func() {
		tally, ok := s.Tally("p1")
		require.True(t, ok)
		assert.Equal(t, int64(2), tally.BullVotes)
		assert.Equal(t, int64(1), tally.BearVotes)
		assert.Equal(t, 16.0, tally.BullAmount)
		assert.Equal(t, 4.0, tally.BearAmount)
		assert.Equal(t, "s1", tally.StreamID)
	}))
	assert.Equal(t, 3, popupVotes)

	view, _ := r.lastSentiment()
	require.NotNil(t, view.Latest)
	assert.Equal(t, "carol voted BULL with 6", view.Latest.Text)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool {
		v, _ := r.lastSentiment()
		return v.Latest == nil
	}, time.Second, 5*time.Millisecond)
}

func TestSentimentOverlay_CloseCancelsHighlight(t *testing.T) {
	l := loop.New(slog.Default())
	defer l.Stop()
	clock := clockwork.NewFakeClock()
	b := newFakeBus()
	r := &fakeRenderer{}

	s := NewSentimentOverlay(b, l, r, "s1", time.Second, clock, slog.Default())
	b.publish(voteEvent("alice", true, 1))
	flush(t, l)
	_, renders := r.lastSentiment()

	s.Close()
	clock.Advance(5 * time.Second)
	b.publish(voteEvent("bob", true, 1))
	flush(t, l)
	flush(t, l)

	_, after := r.lastSentiment()
	assert.Equal(t, renders, after)
}

func TestSentimentOverlay_Seed(t *testing.T) {
	l := loop.New(slog.Default())
	defer l.Stop()
	b := newFakeBus()
	s := NewSentimentOverlay(b, l, &fakeRenderer{}, "s1", time.Second, clockwork.NewFakeClock(), slog.Default())
	defer s.Close()

	require.NoError(t, l.Do(context.Background(), func() {
		s.Seed(model.VoteTally{StreamID: "s1", PromptID: "p1", BullVotes: 10, BullAmount: 100})
	}))
	b.publish(voteEvent("alice", true, 5))
	flush(t, l)

	require.NoError(t, l.Do(context.Background(), func() {
		tally, _ := s.Tally("p1")
		assert.Equal(t, int64(11), tally.BullVotes)
		assert.Equal(t, 105.0, tally.BullAmount)
	}))
}

func TestSentimentOverlay_ReplayedIDCountsOnce(t *testing.T) {
	l := loop.New(slog.Default())
	defer l.Stop()
	b := newFakeBus()
	s := NewSentimentOverlay(b, l, &fakeRenderer{}, "s1", time.Second, clockwork.NewFakeClock(), slog.Default())
	defer s.Close()

	replayed := voteEvent("alice", true, 10)
	replayed.ID = "evt-1"
	b.publish(replayed)
	b.publish(replayed)
	b.publish(voteEvent("alice", true, 10))
	flush(t, l)

	require.NoError(t, l.Do(context.Background(), func() {
		tally, _ := s.Tally("p1")
		assert.Equal(t, int64(2), tally.BullVotes)
	}))
}

func TestMarketsOverlay_TapeAndVolume(t *testing.T) {
	l := loop.New(slog.Default())
	defer l.Stop()
	b := newFakeBus()
	m := NewMarketsOverlay(b, l, &fakeRenderer{}, 2, slog.Default())
	defer m.Close()

	trade := func(user, in string) model.Event {
		return model.Event{Payload: &model.TokenTraded{
			Viewer:   model.Viewer{Username: user},
			TokenIn:  model.Token{Amount: in, Name: "ETH", Decimals: 18},
			TokenOut: model.Token{Amount: "1000000", Name: "USDC", Decimals: 6},
		}}
	}

	b.publish(trade("a", "1000000000000000000"))
	b.publish(trade("b", "500000000000000000"))
	b.publish(trade("c", "2000000000000000000"))
	b.publish(voteEvent("d", true, 1))
	flush(t, l)

	require.NoError(t, l.Do(context.Background(), func() {
		view := m.View()
		require.Len(t, view.Tape, 2)
		assert.Equal(t, "c swapped 2 ETH for 1 USDC", view.Tape[0].Text)
		assert.Equal(t, "b swapped 0.5 ETH for 1 USDC", view.Tape[1].Text)

		require.Len(t, view.Pairs, 1)
		assert.Equal(t, "ETH/USDC", view.Pairs[0].Pair)
		assert.Equal(t, 3, view.Pairs[0].Trades)
		assert.InDelta(t, 3.5, view.Pairs[0].VolumeIn, 1e-9)
	}))
}
