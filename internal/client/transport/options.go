package transport

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

type Option func(*Client)

// WithIdentity attaches the viewer display identity to the handshake.
func WithIdentity(v model.Viewer) Option {
	return func(c *Client) { c.identity = v }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithRecorder(r metrics.QueueRecorder) Option {
	return func(c *Client) { c.recorder = r }
}
