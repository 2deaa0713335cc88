package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	"github.com/livecast/overlay-delivery-service/infra/server/http/interceptors"
	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/livecast/overlay-delivery-service/internal/domain/registry"
	wsmarshaller "github.com/livecast/overlay-delivery-service/internal/handler/marshaller/ws"
	"github.com/livecast/overlay-delivery-service/internal/service"
	"golang.org/x/sync/errgroup"
)

// ProtocolVersion is announced in the connected handshake frame.
const ProtocolVersion = "overlay.v1"

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

type WSHandler struct {
	logger      *slog.Logger
	deliverer   service.Deliverer
	recorder    metrics.HubRecorder
	upgrader    websocket.Upgrader
	readLimit   int64
	sendTimeout time.Duration
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer, recorder metrics.HubRecorder, cfg *config.Config) *WSHandler {
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		recorder:  recorder,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.Server.AllowedOrigins),
		},
		readLimit:   cfg.Server.ReadLimit,
		sendTimeout: cfg.Registry.SendTimeout,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. EXTRACT STREAM + IDENTITY (identity comes from the interceptor)
	streamID := strings.TrimSpace(r.URL.Query().Get("stream"))
	if streamID == "" {
		http.Error(w, "stream query parameter is required", http.StatusBadRequest)
		return
	}
	viewer, _ := interceptors.GetViewer(r.Context())

	// 2. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// 3. SUBSCRIBE VIA THE SAME SERVICE
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := h.deliverer.Subscribe(ctx, streamID, viewer, registry.ConnectMetadata{
		Transport: "ws",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.logger.Warn("ws subscribe failed", "error", err, "stream_id", streamID)
		return
	}
	defer h.deliverer.Unsubscribe(streamID, conn.GetID())

	log := h.logger.With("stream_id", streamID, "conn_id", conn.GetID(), "viewer", viewer.Username)
	log.Info("ws opened")

	// 4. HANDSHAKE: the connected frame is the first frame on every socket
	if err := h.writeFrame(ws, event.NewSystemEvent(streamID, event.PriorityHigh, &model.ConnectedPayload{
		Ok:            true,
		ConnectionID:  conn.GetID().String(),
		StreamID:      streamID,
		ServerVersion: ProtocolVersion,
		ServerTime:    time.Now().UnixMilli(),
	})); err != nil {
		log.Warn("ws handshake failed", "error", err)
		return
	}

	// 5. PUMPS: the write pump is the only writer after the handshake
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer h.deliverer.Unsubscribe(streamID, conn.GetID())
		return h.readPump(gctx, ws, conn, viewer, log)
	})
	g.Go(func() error {
		// Closing the socket unblocks the read pump.
		defer ws.Close()
		return h.writePump(ws, conn)
	})

	if err := g.Wait(); err != nil && !isExpectedClose(err) {
		log.Warn("ws closed with error", "error", err)
	}
	log.Info("ws closed", "dropped", conn.Dropped())
}

func (h *WSHandler) readPump(ctx context.Context, ws *websocket.Conn, conn registry.Connector, viewer model.Viewer, log *slog.Logger) error {
	ws.SetReadLimit(h.readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, frame, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.handleFrame(ctx, frame, conn, viewer, log)
	}
}

// handleFrame never fails the connection: a bad frame is counted and dropped.
func (h *WSHandler) handleFrame(ctx context.Context, frame []byte, conn registry.Connector, viewer model.Viewer, log *slog.Logger) {
	env, err := model.DecodeEnvelope(frame)
	if err != nil {
		h.recorder.IncRejected("unknown")
		log.Warn("DECODE_FAILED", "error", err)
		return
	}

	ev, err := env.ToEvent(time.Now())
	if err != nil {
		h.recorder.IncRejected(env.Event.String())
		log.Warn("DECODE_FAILED", "error", err, "kind", env.Event)
		return
	}

	// [TIME_SYNC] answered on this socket only
	if req, ok := ev.Payload.(*model.TimeSync); ok {
		conn.Send(h.deliverer.TimeSync(conn.GetStreamID(), req), h.sendTimeout)
		return
	}

	// [IDENTITY_OVERRIDE] the socket identity wins over anything in the frame
	ev.StreamID = conn.GetStreamID()
	if viewer.Username != "" {
		setActor(ev.Payload, viewer)
	}

	if err := h.deliverer.Publish(ctx, ev); err != nil {
		h.recorder.IncRejected(ev.Kind().String())
		log.Warn("PUBLISH_REJECTED", "error", err, "kind", ev.Kind())
	}
}

func (h *WSHandler) writePump(ws *websocket.Conn, conn registry.Connector) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-conn.Recv():
			if !ok {
				// Registry closed the connection: say goodbye and close the socket.
				_ = h.writeFrame(ws, event.NewSystemEvent(conn.GetStreamID(), event.PriorityHigh, &model.DisconnectedPayload{
					Reason: "connection closed by server",
					Code:   "CLOSED",
				}))
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			}
			if err := h.writeFrame(ws, ev); err != nil {
				return err
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (h *WSHandler) writeFrame(ws *websocket.Conn, ev event.Eventer) error {
	data, err := wsmarshaller.MarshallDeliveryEvent(ev)
	if err != nil {
		h.logger.Error("failed to marshal ws event", "error", err, "kind", ev.GetKind())
		return nil
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}

func setActor(p model.Payload, v model.Viewer) {
	switch e := p.(type) {
	case *model.JoinStream:
		e.Viewer = v
	case *model.TipSent:
		e.Viewer = v
	case *model.TokenTraded:
		e.Viewer = v
	case *model.VoteCast:
		e.Viewer = v
	}
}

// originChecker allows every origin when the list is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

func isExpectedClose(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
