// Package transport keeps one persistent WebSocket per viewer session to the
// overlay hub and exposes emit/subscribe primitives over it.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 64
)

// Handler receives one decoded envelope. Handlers run on the read pump in
// arrival order and must not block.
type Handler func(env *model.Envelope)

type Client struct {
	url              string
	streamID         string
	identity         model.Viewer
	handshakeTimeout time.Duration
	backoff          Backoff
	clock            clockwork.Clock
	dialer           *websocket.Dialer
	logger           *slog.Logger
	recorder         metrics.QueueRecorder

	subsMu    sync.RWMutex
	subs      map[model.Kind]map[uint64]Handler
	nextSubID uint64

	mu       sync.Mutex
	live     *conn
	closed   bool
	closedCh chan struct{}
}

// New creates a disconnected client for one stream. serverURL is the hub
// WebSocket endpoint, e.g. ws://localhost:8080/ws.
func New(serverURL, streamID string, opts ...Option) *Client {
	c := &Client{
		url:              serverURL,
		streamID:         streamID,
		handshakeTimeout: 5 * time.Second,
		backoff:          DefaultBackoff(),
		clock:            clockwork.NewRealClock(),
		dialer:           websocket.DefaultDialer,
		logger:           slog.Default(),
		recorder:         metrics.NoopRecorder{},
		subs:             make(map[model.Kind]map[uint64]Handler),
		closedCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamID is the stream this client is bound to.
func (c *Client) StreamID() string { return c.streamID }

// Connected reports whether a channel is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live != nil && !c.live.isDone()
}

// Connect dials the hub and waits for the connected frame.
// It fails with *ConnectionError when the handshake does not finish in time.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, 1)
}

func (c *Client) connect(ctx context.Context, attempt int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.live != nil && !c.live.isDone() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	target, err := c.dialURL()
	if err != nil {
		return &ConnectionError{URL: c.url, Attempt: attempt, Err: err}
	}

	hctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	ws, _, err := c.dialer.DialContext(hctx, target, nil)
	if err != nil {
		return &ConnectionError{URL: c.url, Attempt: attempt, Err: err}
	}

	hello, err := c.awaitHandshake(hctx, ws)
	if err != nil {
		_ = ws.Close()
		return &ConnectionError{URL: c.url, Attempt: attempt, Err: err}
	}

	cn := newConn(ws)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cn.shutdown()
		return ErrClientClosed
	}
	c.live = cn
	c.mu.Unlock()

	c.logger.Info("[TRANSPORT] connected", "stream_id", c.streamID, "attempt", attempt)

	go c.writePump(cn)
	go c.readPump(cn, hello)
	return nil
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("stream", c.streamID)
	if c.identity.Username != "" {
		q.Set("username", c.identity.Username)
	}
	if c.identity.ProfilePictureURL != "" {
		q.Set("avatar", c.identity.ProfilePictureURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// awaitHandshake reads the first frame, which must be a successful connected frame.
func (c *Client) awaitHandshake(ctx context.Context, ws *websocket.Conn) (*model.Envelope, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}
	_, frame, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	env, err := model.DecodeEnvelope(frame)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if env.Event != model.KindConnected {
		return nil, fmt.Errorf("handshake: expected %s frame, got %s", model.KindConnected, env.Event)
	}
	p, err := env.DecodePayload()
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if !p.(*model.ConnectedPayload).Ok {
		return nil, errors.New("handshake: rejected by server")
	}
	_ = ws.SetReadDeadline(time.Time{})
	return env, nil
}

// Emit sends a fire-and-forget frame. Nothing is buffered while disconnected.
func (c *Client) Emit(kind model.Kind, payload model.Payload) error {
	if payload == nil || payload.Kind() != kind {
		return fmt.Errorf("transport: payload does not match kind %s", kind)
	}

	c.mu.Lock()
	cn := c.live
	c.mu.Unlock()
	if cn == nil || cn.isDone() {
		return ErrNotConnected
	}

	env, err := model.NewEnvelope(c.streamID, payload, c.clock.Now())
	if err != nil {
		return err
	}
	frame, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", kind, err)
	}

	select {
	case cn.send <- frame:
		return nil
	case <-cn.done:
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

// On registers handler for kind. Handlers of one kind run in registration order.
func (c *Client) On(kind model.Kind, handler Handler) *Subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	if c.subs[kind] == nil {
		c.subs[kind] = make(map[uint64]Handler)
	}
	c.subs[kind][id] = handler

	return NewSubscription(func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.subs[kind], id)
		if len(c.subs[kind]) == 0 {
			delete(c.subs, kind)
		}
	})
}

// Disconnect tears the channel down. Safe to call repeatedly and when never connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closedCh)
	cn := c.live
	c.live = nil
	c.mu.Unlock()

	if cn != nil {
		cn.closeLocally()
		cn.wait()
	}
	c.logger.Info("[TRANSPORT] disconnected", "stream_id", c.streamID)
	return nil
}

// Run keeps the client connected until ctx ends or Disconnect is called.
// Failed attempts back off per the policy; when it is exhausted Run returns
// ErrRetriesExhausted and the overlays simply stop updating.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		err := c.connect(ctx, failures+1)
		switch {
		case errors.Is(err, ErrClientClosed):
			return nil
		case err == nil:
			failures = 0
			if stop, reason := c.awaitLoss(ctx); stop {
				return reason
			}
			c.recorder.IncReconnects()
			err = errConnectionLost
		default:
			failures++
			if ctx.Err() != nil {
				_ = c.Disconnect()
				return ctx.Err()
			}
			if c.backoff.Exhausted(failures) {
				c.logger.Error("[TRANSPORT] giving up", "stream_id", c.streamID, "attempts", failures, "err", err)
				return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, failures, err)
			}
		}

		delay := c.backoff.Delay(max(failures, 1))
		c.logger.Warn("[TRANSPORT] reconnecting", "stream_id", c.streamID, "in", delay, "err", err)

		select {
		case <-c.clock.After(delay):
		case <-c.closedCh:
			return nil
		case <-ctx.Done():
			_ = c.Disconnect()
			return ctx.Err()
		}
	}
}

// awaitLoss blocks while the current connection is alive.
func (c *Client) awaitLoss(ctx context.Context) (bool, error) {
	c.mu.Lock()
	cn := c.live
	c.mu.Unlock()
	if cn == nil {
		return false, nil
	}

	select {
	case <-cn.done:
		return false, nil
	case <-c.closedCh:
		return true, nil
	case <-ctx.Done():
		_ = c.Disconnect()
		return true, ctx.Err()
	}
}

func (c *Client) readPump(cn *conn, hello *model.Envelope) {
	defer cn.readerDone()
	c.dispatch(hello)

	cn.ws.SetReadLimit(64 * 1024)
	_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cn.ws.SetPongHandler(func(string) error {
		return cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	var reason error
	for {
		_, frame, err := cn.ws.ReadMessage()
		if err != nil {
			reason = err
			break
		}
		env, err := model.DecodeEnvelope(frame)
		if err != nil {
			c.recorder.IncMalformed()
			c.logger.Warn("DECODE_FAILED", "stream_id", c.streamID, "err", err)
			continue
		}
		c.dispatch(env)
	}

	cn.shutdown()

	// [LOCAL_SIGNAL] listeners learn about the loss even when the server vanished silently
	if !cn.wasClosedLocally() {
		c.logger.Warn("[TRANSPORT] connection lost", "stream_id", c.streamID, "err", reason)
	}
	data, _ := json.Marshal(&model.DisconnectedPayload{Reason: fmt.Sprint(reason), Code: "CONNECTION_LOST"})
	c.dispatch(&model.Envelope{Event: model.KindDisconnected, Stream: c.streamID, Data: data})
}

func (c *Client) writePump(cn *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cn.writerDone()
	}()

	for {
		select {
		case frame := <-cn.send:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				cn.shutdown()
				return
			}
		case <-ticker.C:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				cn.shutdown()
				return
			}
		case <-cn.done:
			return
		}
	}
}

func (c *Client) dispatch(env *model.Envelope) {
	c.subsMu.RLock()
	byID := c.subs[env.Event]
	fns := make([]Handler, 0, len(byID))
	for _, id := range slices.Sorted(maps.Keys(byID)) {
		fns = append(fns, byID[id])
	}
	c.subsMu.RUnlock()

	for _, fn := range fns {
		fn(env)
	}
}
