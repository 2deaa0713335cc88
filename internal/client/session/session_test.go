package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/internal/client/notify"
	"github.com/livecast/overlay-delivery-service/internal/client/overlay"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serverSkew = 5 * time.Second

// replayHub echoes every domain frame to the sender, answers current-time
// with a skewed clock and replays its whole history to each new connection,
// the worst case a reconnecting viewer can meet.
type replayHub struct {
	srv *httptest.Server

	mu      sync.Mutex
	history [][]byte
	active  *websocket.Conn
	conns   int
}

func newReplayHub(t *testing.T) *replayHub {
	h := &replayHub{}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		data, _ := json.Marshal(&model.ConnectedPayload{Ok: true, StreamID: r.URL.Query().Get("stream")})
		hello, _ := json.Marshal(&model.Envelope{Event: model.KindConnected, Data: data})
		h.mu.Lock()
		h.active = ws
		h.conns++
		_ = ws.WriteMessage(websocket.TextMessage, hello)
		for _, frame := range h.history {
			_ = ws.WriteMessage(websocket.TextMessage, frame)
		}
		h.mu.Unlock()

		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := model.DecodeEnvelope(frame)
			if err != nil {
				continue
			}

			if env.Event == model.KindCurrentTime {
				var ts model.TimeSync
				_ = json.Unmarshal(env.Data, &ts)
				ts.ServerTime = time.Now().Add(serverSkew).UnixMilli()
				env.Data, _ = json.Marshal(&ts)
				frame, _ = env.Marshal()
			} else {
				h.mu.Lock()
				h.history = append(h.history, frame)
				h.mu.Unlock()
			}

			h.mu.Lock()
			err = ws.WriteMessage(websocket.TextMessage, frame)
			h.mu.Unlock()
			if err != nil {
				return
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *replayHub) connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns
}

func (h *replayHub) url() string { return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws" }

// kick drops the current connection without a close frame.
func (h *replayHub) kick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil {
		_ = h.active.UnderlyingConn().Close()
	}
}

type memRenderer struct {
	mu        sync.Mutex
	shown     []string
	sentiment []overlay.SentimentView
	markets   []overlay.MarketsView
}

func (r *memRenderer) Show(it *notify.QueueItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, it.Display.Text)
}

func (r *memRenderer) Exit(*notify.QueueItem) {}

func (r *memRenderer) Clear() {}

func (r *memRenderer) RenderSentiment(v overlay.SentimentView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sentiment = append(r.sentiment, v)
}

func (r *memRenderer) RenderMarkets(v overlay.MarketsView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets = append(r.markets, v)
}

func (r *memRenderer) shownCopy() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.shown...)
}

func testConfig(url string) *config.Config {
	return &config.Config{
		Viewer: config.ViewerConfig{
			ServerURL: url,
			StreamID:  "s1",
			Username:  "alice",
			AvatarURL: "https://cdn/alice.png",
		},
		Transport: config.TransportConfig{
			HandshakeTimeout:  time.Second,
			BackoffInitial:    10 * time.Millisecond,
			BackoffMax:        50 * time.Millisecond,
			BackoffMultiplier: 2,
		},
		Notify: config.NotifyConfig{
			Dwell:          time.Minute,
			SentimentDwell: time.Minute,
			Exit:           100 * time.Millisecond,
			DedupWindow:    time.Minute,
			DedupCapacity:  64,
			MaxPending:     100,
			TapeSize:       5,
		},
	}
}

func startSession(t *testing.T, cfg *config.Config, r overlay.Renderer) *Session {
	t.Helper()
	s, err := New(cfg, r, WithLogger(slog.Default()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = s.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return")
		}
	})

	require.Eventually(t, s.Connected, 2*time.Second, 5*time.Millisecond)
	return s
}

func queueLen(t *testing.T, s *Session) int {
	var n int
	require.NoError(t, s.Inspect(context.Background(), func(q *notify.Queue) { n = q.Len() }))
	return n
}

func TestSession_JoinEchoesToOwnOverlay(t *testing.T) {
	hub := newReplayHub(t)
	r := &memRenderer{}
	startSession(t, testConfig(hub.url()), r)

	require.Eventually(t, func() bool { return len(r.shownCopy()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice joined the stream"}, r.shownCopy())
}

func TestSession_ActionsReachSurfaces(t *testing.T) {
	hub := newReplayHub(t)
	r := &memRenderer{}
	s := startSession(t, testConfig(hub.url()), r)
	ctx := context.Background()

	require.NoError(t, s.Tip(ctx, 5))
	require.NoError(t, s.Vote(ctx, "p1", true, 10))
	require.NoError(t, s.Vote(ctx, "p1", true, 10))
	require.NoError(t, s.Trade(ctx,
		model.Token{Amount: "1000000000000000000", Name: "ETH", Decimals: 18},
		model.Token{Amount: "3000000000", Name: "USDC", Decimals: 6}))

	// join, tip, one vote, trade; the second identical vote is suppressed
	require.Eventually(t, func() bool { return queueLen(t, s) == 4 }, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.sentiment) == 2 && len(r.markets) == 1
	}, 2*time.Second, 5*time.Millisecond)

	r.mu.Lock()
	last := r.sentiment[1]
	assert.Equal(t, "ETH/USDC", r.markets[0].Pairs[0].Pair)
	r.mu.Unlock()
	require.Len(t, last.Tallies, 1)
	assert.Equal(t, int64(2), last.Tallies[0].BullVotes, "the sentiment tally counts every vote it receives")
}

func TestSession_TimeSyncOffset(t *testing.T) {
	hub := newReplayHub(t)
	s := startSession(t, testConfig(hub.url()), &memRenderer{})

	require.Eventually(t, func() bool {
		return s.ClockOffset() > serverSkew-time.Second
	}, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, float64(serverSkew), float64(s.ClockOffset()), float64(time.Second))
	assert.WithinDuration(t, time.Now().Add(serverSkew), s.ServerNow(), time.Second)
}

func TestSession_DisconnectMidShowing(t *testing.T) {
	hub := newReplayHub(t)
	r := &memRenderer{}
	s := startSession(t, testConfig(hub.url()), r)
	ctx := context.Background()

	require.NoError(t, s.Tip(ctx, 5))
	require.Eventually(t, func() bool { return queueLen(t, s) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, r.shownCopy(), 1, "join is on screen, tip pending")

	hub.kick()
	require.Eventually(t, func() bool {
		return hub.connections() == 2 && s.Connected()
	}, 2*time.Second, 5*time.Millisecond)

	// the hub replayed join and tip; both are suppressed
	require.NoError(t, s.Tip(ctx, 7))
	require.Eventually(t, func() bool { return queueLen(t, s) == 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Inspect(ctx, func(q *notify.Queue) {
		active := q.PeekActive()
		require.NotNil(t, active)
		assert.Equal(t, "alice joined the stream", active.Display.Text)

		pending := q.Pending()
		require.Len(t, pending, 2)
		assert.Equal(t, "alice tipped 5", pending[0].Display.Text)
		assert.Equal(t, "alice tipped 7", pending[1].Display.Text)
	}))
	assert.Len(t, r.shownCopy(), 1)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	hub := newReplayHub(t)
	s := startSession(t, testConfig(hub.url()), &memRenderer{})

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Connected())
	assert.Error(t, s.Tip(context.Background(), 1))
}

func TestNew_RequiresViewerIdentity(t *testing.T) {
	cfg := testConfig("ws://localhost:1/ws")
	cfg.Viewer.Username = " "

	_, err := New(cfg, &memRenderer{})
	assert.ErrorContains(t, err, "viewer.username")
}
