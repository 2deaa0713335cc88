package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub echoes every frame back to the sender, the way the real hub
// fans out to every connection of a stream including the sender.
type fakeHub struct {
	t           *testing.T
	srv         *httptest.Server
	connections atomic.Int32
	silent      bool // never send the connected frame
	dropFirst   bool // close the first connection right after the handshake

	mu    sync.Mutex
	query []string
}

func newFakeHub(t *testing.T, configure func(*fakeHub)) *fakeHub {
	h := &fakeHub{t: t}
	if configure != nil {
		configure(h)
	}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		n := h.connections.Add(1)
		h.mu.Lock()
		h.query = append(h.query, r.URL.RawQuery)
		h.mu.Unlock()

		if h.silent {
			_, _, _ = ws.ReadMessage()
			return
		}
		data, _ := json.Marshal(&model.ConnectedPayload{Ok: true, StreamID: r.URL.Query().Get("stream")})
		hello, _ := json.Marshal(&model.Envelope{Event: model.KindConnected, Data: data})
		if err := ws.WriteMessage(websocket.TextMessage, hello); err != nil {
			return
		}
		if h.dropFirst && n == 1 {
			return
		}

		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if string(frame) == "kick" {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) url() string { return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws" }

func newClient(h *fakeHub, opts ...Option) *Client {
	opts = append([]Option{
		WithIdentity(model.Viewer{Username: "alice", ProfilePictureURL: "a.png"}),
		WithHandshakeTimeout(500 * time.Millisecond),
		WithBackoff(NewBackoff(10*time.Millisecond, 50*time.Millisecond, 2, 0)),
		WithLogger(slog.Default()),
	}, opts...)
	return New(h.url(), "s1", opts...)
}

type collector struct {
	mu   sync.Mutex
	envs []*model.Envelope
}

func (c *collector) handle(env *model.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

func (c *collector) snapshot() []*model.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Envelope(nil), c.envs...)
}

func TestClient_EmitAndReceiveInArrivalOrder(t *testing.T) {
	hub := newFakeHub(t, nil)
	c := newClient(hub)
	defer c.Disconnect()

	tips := &collector{}
	c.On(model.KindTipSent, tips.handle)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())

	for i := 1; i <= 20; i++ {
		require.NoError(t, c.Emit(model.KindTipSent, &model.TipSent{Viewer: model.Viewer{Username: "alice"}, TipAmount: float64(i)}))
	}

	require.Eventually(t, func() bool { return tips.len() == 20 }, 2*time.Second, 5*time.Millisecond)
	for i, env := range tips.snapshot() {
		p, err := env.DecodePayload()
		require.NoError(t, err)
		assert.Equal(t, float64(i+1), p.(*model.TipSent).TipAmount)
	}

	hub.mu.Lock()
	assert.Contains(t, hub.query[0], "stream=s1")
	assert.Contains(t, hub.query[0], "username=alice")
	hub.mu.Unlock()
}

func TestClient_ConnectFailsWithConnectionError(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		hub := newFakeHub(t, nil)
		hub.srv.Close()

		err := newClient(hub).Connect(context.Background())
		var cErr *ConnectionError
		require.ErrorAs(t, err, &cErr)
		assert.Equal(t, 1, cErr.Attempt)
	})

	t.Run("handshake timeout", func(t *testing.T) {
		hub := newFakeHub(t, func(h *fakeHub) { h.silent = true })

		start := time.Now()
		err := newClient(hub, WithHandshakeTimeout(100*time.Millisecond)).Connect(context.Background())
		var cErr *ConnectionError
		require.ErrorAs(t, err, &cErr)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestClient_EmitWithoutConnection(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", "s1")
	err := c.Emit(model.KindJoinStream, &model.JoinStream{Viewer: model.Viewer{Username: "a"}})
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.Emit(model.KindTipSent, &model.JoinStream{Viewer: model.Viewer{Username: "a"}})
	assert.ErrorContains(t, err, "does not match")
}

func TestClient_DisconnectIsIdempotent(t *testing.T) {
	hub := newFakeHub(t, nil)
	c := newClient(hub)

	assert.NoError(t, c.Disconnect(), "never connected")

	c = newClient(hub)
	require.NoError(t, c.Connect(context.Background()))
	assert.NoError(t, c.Disconnect())
	assert.NoError(t, c.Disconnect())
	assert.False(t, c.Connected())

	err := c.Emit(model.KindJoinStream, &model.JoinStream{Viewer: model.Viewer{Username: "a"}})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClientClosed)
}

func TestClient_SubscriptionClose(t *testing.T) {
	hub := newFakeHub(t, nil)
	c := newClient(hub)
	defer c.Disconnect()

	first, second := &collector{}, &collector{}
	sub := c.On(model.KindJoinStream, first.handle)
	c.On(model.KindJoinStream, second.handle)
	require.NoError(t, c.Connect(context.Background()))

	join := &model.JoinStream{Viewer: model.Viewer{Username: "alice"}}
	require.NoError(t, c.Emit(model.KindJoinStream, join))
	require.Eventually(t, func() bool { return first.len() == 1 && second.len() == 1 }, time.Second, 5*time.Millisecond)

	sub.Close()
	sub.Close()
	require.NoError(t, c.Emit(model.KindJoinStream, join))
	require.Eventually(t, func() bool { return second.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, first.len())
}

func TestClient_RunReconnectsAfterLoss(t *testing.T) {
	hub := newFakeHub(t, func(h *fakeHub) { h.dropFirst = true })
	c := newClient(hub)

	connected, lost := &collector{}, &collector{}
	c.On(model.KindConnected, connected.handle)
	c.On(model.KindDisconnected, lost.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return connected.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, lost.len(), 1)
	assert.Equal(t, int32(2), hub.connections.Load())

	require.NoError(t, c.Disconnect())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Disconnect")
	}
}

func TestClient_RunGivesUp(t *testing.T) {
	hub := newFakeHub(t, nil)
	hub.srv.Close()

	c := newClient(hub, WithBackoff(NewBackoff(time.Millisecond, 5*time.Millisecond, 2, 2)))
	err := c.Run(context.Background())

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	var cErr *ConnectionError
	assert.True(t, errors.As(err, &cErr))
	assert.Equal(t, 3, cErr.Attempt)
}

func TestClient_DropsMalformedEnvelopes(t *testing.T) {
	hub := newFakeHub(t, nil)
	c := newClient(hub)
	defer c.Disconnect()

	joins := &collector{}
	c.On(model.KindJoinStream, joins.handle)
	require.NoError(t, c.Connect(context.Background()))

	c.mu.Lock()
	cn := c.live
	c.mu.Unlock()
	cn.send <- []byte("not json")

	require.NoError(t, c.Emit(model.KindJoinStream, &model.JoinStream{Viewer: model.Viewer{Username: "bob"}}))
	require.Eventually(t, func() bool { return joins.len() == 1 }, time.Second, 5*time.Millisecond)
}
