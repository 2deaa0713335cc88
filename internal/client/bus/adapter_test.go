package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/livecast/overlay-delivery-service/internal/client/transport"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[model.Kind][]transport.Handler
	emitted  []model.Payload
	emitErr  error
	released int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[model.Kind][]transport.Handler)}
}

func (f *fakeTransport) On(kind model.Kind, h transport.Handler) *transport.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = append(f.handlers[kind], h)
	return transport.NewSubscription(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
		delete(f.handlers, kind)
	})
}

func (f *fakeTransport) Emit(_ model.Kind, p model.Payload) error {
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, p)
	return nil
}

func (f *fakeTransport) StreamID() string { return "s1" }

func (f *fakeTransport) deliver(t *testing.T, kind model.Kind, data string) {
	t.Helper()
	f.mu.Lock()
	hs := append([]transport.Handler(nil), f.handlers[kind]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(&model.Envelope{Event: kind, ID: "id-" + data, Data: json.RawMessage(data)})
	}
}

type countingRecorder struct {
	malformed int
}

func (r *countingRecorder) SetQueueDepth(int)    {}
func (r *countingRecorder) IncEnqueued(string)   {}
func (r *countingRecorder) IncSuppressed(string) {}
func (r *countingRecorder) IncEvicted()          {}
func (r *countingRecorder) IncMalformed()        { r.malformed++ }
func (r *countingRecorder) IncReconnects()       {}

func TestAdapter_DeliversTypedEventsInOrder(t *testing.T) {
	ft := newFakeTransport()
	a := New(ft)
	defer a.Close()

	var tips, all []model.Event
	a.Subscribe(model.KindTipSent, func(ev model.Event) { tips = append(tips, ev) })
	a.SubscribeAll(func(ev model.Event) { all = append(all, ev) })

	ft.deliver(t, model.KindTipSent, `{"username":"alice","tipAmount":5}`)
	ft.deliver(t, model.KindJoinStream, `{"username":"bob"}`)
	ft.deliver(t, model.KindTipSent, `{"username":"bob","tipAmount":1}`)

	require.Len(t, tips, 2)
	assert.Equal(t, "alice", tips[0].Payload.(*model.TipSent).Username)
	assert.Equal(t, "bob", tips[1].Payload.(*model.TipSent).Username)
	assert.Equal(t, "s1", tips[0].StreamID)

	require.Len(t, all, 3)
	for i, ev := range all {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}

func TestAdapter_IndependentSubscribers(t *testing.T) {
	ft := newFakeTransport()
	a := New(ft)
	defer a.Close()

	var bull, votes int
	a.Subscribe(model.KindVoteCast, func(ev model.Event) {
		if ev.Payload.(*model.VoteCast).IsBull {
			bull++
		}
	})
	sub := a.Subscribe(model.KindVoteCast, func(model.Event) { votes++ })

	ft.deliver(t, model.KindVoteCast, `{"username":"a","voteAmount":1,"isBull":true,"promptId":"p1"}`)
	sub.Close()
	sub.Close()
	ft.deliver(t, model.KindVoteCast, `{"username":"b","voteAmount":1,"isBull":true,"promptId":"p1"}`)

	assert.Equal(t, 2, bull)
	assert.Equal(t, 1, votes)
}

func TestAdapter_DropsMalformed(t *testing.T) {
	ft := newFakeTransport()
	rec := &countingRecorder{}
	a := New(ft, WithRecorder(rec))
	defer a.Close()

	var got []model.Event
	a.SubscribeAll(func(ev model.Event) { got = append(got, ev) })

	assert.NotPanics(t, func() {
		ft.deliver(t, model.KindVoteCast, `{"username":"a","voteAmount":1,"promptId":"p1"}`)
		ft.deliver(t, model.KindTipSent, `{"username":"a","tipAmount":"lots"}`)
		ft.deliver(t, model.KindTipSent, `[]`)
	})
	ft.deliver(t, model.KindTipSent, `{"username":"a","tipAmount":2}`)

	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Seq, "malformed frames do not consume sequence numbers")
	assert.Equal(t, 3, rec.malformed)
}

func TestAdapter_TimeSyncSkipsWildcard(t *testing.T) {
	ft := newFakeTransport()
	a := New(ft)
	defer a.Close()

	var wildcard int
	var ts *model.TimeSync
	a.SubscribeAll(func(model.Event) { wildcard++ })
	a.Subscribe(model.KindCurrentTime, func(ev model.Event) { ts = ev.Payload.(*model.TimeSync) })

	ft.deliver(t, model.KindCurrentTime, `{"requestedAt":100,"serverTime":250}`)

	require.NotNil(t, ts)
	assert.Equal(t, int64(250), ts.ServerTime)
	assert.Zero(t, wildcard)
}

func TestAdapter_Publish(t *testing.T) {
	ft := newFakeTransport()
	a := New(ft)
	defer a.Close()

	tip := &model.TipSent{Viewer: model.Viewer{Username: "alice"}, TipAmount: 5}
	require.NoError(t, a.Publish(context.Background(), model.Event{Payload: tip}))
	assert.Equal(t, []model.Payload{tip}, ft.emitted)

	err := a.Publish(context.Background(), model.Event{Payload: &model.TipSent{Viewer: model.Viewer{Username: "alice"}}})
	assert.ErrorContains(t, err, "tipAmount")

	ft.emitErr = transport.ErrNotConnected
	err = a.Publish(context.Background(), model.Event{Payload: tip})
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Publish(ctx, model.Event{Payload: tip}), context.Canceled)
}

func TestAdapter_CloseReleasesTransport(t *testing.T) {
	ft := newFakeTransport()
	a := New(ft)

	var got int
	a.SubscribeAll(func(model.Event) { got++ })

	a.Close()
	a.Close()

	assert.Equal(t, len(routedKinds), ft.released)
	ft.deliver(t, model.KindTipSent, `{"username":"a","tipAmount":2}`)
	assert.Zero(t, got)
}
