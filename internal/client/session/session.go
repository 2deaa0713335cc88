// Package session owns everything one viewer needs to watch a stream: the
// loop, the transport, the bus adapter, the notification queue and the
// mounted overlays. Nothing here is global; closing the session releases it all.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/infra/metrics"
	"github.com/livecast/overlay-delivery-service/internal/client/bus"
	"github.com/livecast/overlay-delivery-service/internal/client/loop"
	"github.com/livecast/overlay-delivery-service/internal/client/notify"
	"github.com/livecast/overlay-delivery-service/internal/client/overlay"
	"github.com/livecast/overlay-delivery-service/internal/client/transport"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// Identity is the viewer's display identity. It is read-only for the session.
type Identity struct {
	Username  string
	AvatarURL string
}

func (i Identity) viewer() model.Viewer {
	return model.Viewer{Username: i.Username, ProfilePictureURL: i.AvatarURL}
}

type Session struct {
	identity  Identity
	streamID  string
	syncEvery time.Duration

	clock    clockwork.Clock
	logger   *slog.Logger
	recorder metrics.QueueRecorder

	loop      *loop.Loop
	transport *transport.Client
	bus       *bus.Adapter
	queue     *notify.Queue

	popup     *overlay.PopupOverlay
	sentiment *overlay.SentimentOverlay
	markets   *overlay.MarketsOverlay

	hooks   []*transport.Subscription
	timeSub *bus.Subscription

	// server clock minus local clock, in ms
	offset atomic.Int64
	joined atomic.Bool

	closeOnce sync.Once
}

type Option func(*options)

type options struct {
	clock    clockwork.Clock
	logger   *slog.Logger
	recorder metrics.QueueRecorder
	dialer   *websocket.Dialer
}

func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithRecorder(r metrics.QueueRecorder) Option { return func(o *options) { o.recorder = r } }

func WithDialer(d *websocket.Dialer) Option { return func(o *options) { o.dialer = d } }

// New wires a session for cfg.Viewer and mounts the overlays on renderer.
// The session is idle until Run is called.
func New(cfg *config.Config, renderer overlay.Renderer, opts ...Option) (*Session, error) {
	if err := cfg.ValidateViewer(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	o := options{
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
		dialer:   websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	identity := Identity{Username: cfg.Viewer.Username, AvatarURL: cfg.Viewer.AvatarURL}
	logger := o.logger.With("stream_id", cfg.Viewer.StreamID, "viewer", identity.Username)

	s := &Session{
		identity:  identity,
		streamID:  cfg.Viewer.StreamID,
		syncEvery: cfg.Transport.TimeSyncInterval,
		clock:     o.clock,
		logger:    logger,
		recorder:  o.recorder,
		loop:      loop.New(logger),
	}

	s.transport = transport.New(cfg.Viewer.ServerURL, cfg.Viewer.StreamID,
		transport.WithIdentity(identity.viewer()),
		transport.WithHandshakeTimeout(cfg.Transport.HandshakeTimeout),
		transport.WithBackoff(transport.NewBackoff(
			cfg.Transport.BackoffInitial,
			cfg.Transport.BackoffMax,
			cfg.Transport.BackoffMultiplier,
			cfg.Transport.MaxRetries)),
		transport.WithClock(o.clock),
		transport.WithDialer(o.dialer),
		transport.WithLogger(logger),
		transport.WithRecorder(o.recorder))

	s.bus = bus.New(s.transport,
		bus.WithClock(o.clock),
		bus.WithLogger(logger),
		bus.WithRecorder(o.recorder))

	s.queue = notify.NewQueue(
		notify.WithDedup(cfg.Notify.DedupWindow, cfg.Notify.DedupCapacity),
		notify.WithMaxPending(cfg.Notify.MaxPending),
		notify.WithQueueClock(o.clock),
		notify.WithQueueLogger(logger),
		notify.WithQueueRecorder(o.recorder))

	presenter := notify.NewPresenter("popup", s.queue, s.loop, renderer,
		notify.WithTiming(cfg.Notify.Dwell, cfg.Notify.Exit),
		notify.WithPresenterClock(o.clock),
		notify.WithPresenterLogger(logger))

	s.popup = overlay.NewPopupOverlay(s.bus, s.loop, s.queue, presenter, logger)
	s.sentiment = overlay.NewSentimentOverlay(s.bus, s.loop, renderer, s.streamID, cfg.Notify.SentimentDwell, o.clock, logger)
	s.markets = overlay.NewMarketsOverlay(s.bus, s.loop, renderer, cfg.Notify.TapeSize, logger)

	s.hooks = append(s.hooks,
		s.transport.On(model.KindConnected, s.onConnected),
		s.transport.On(model.KindDisconnected, s.onDisconnected))
	s.timeSub = s.bus.Subscribe(model.KindCurrentTime, s.onTimeSync)

	return s, nil
}

func (s *Session) Identity() Identity { return s.identity }

func (s *Session) StreamID() string { return s.streamID }

// Connected reports whether the transport currently has an open channel.
func (s *Session) Connected() bool { return s.transport.Connected() }

// Run keeps the session connected until ctx ends, Close is called or the
// reconnect policy gives up. Giving up is logged, not fatal: the overlays
// simply stop updating.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	runDone := make(chan struct{})
	g.Go(func() error {
		defer close(runDone)
		err := s.transport.Run(gctx)
		if errors.Is(err, transport.ErrRetriesExhausted) {
			s.logger.Error("[SESSION] transport gave up, overlays frozen", "err", err)
		}
		return err
	})

	if s.syncEvery > 0 {
		g.Go(func() error {
			ticker := s.clock.NewTicker(s.syncEvery)
			defer ticker.Stop()
			for {
				select {
				case <-runDone:
					return nil
				case <-ticker.Chan():
					s.requestTime()
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServerNow estimates the hub's clock from the last time sync.
func (s *Session) ServerNow() time.Time {
	return s.clock.Now().Add(time.Duration(s.offset.Load()) * time.Millisecond)
}

// ClockOffset is the last measured server minus local clock difference.
func (s *Session) ClockOffset() time.Duration {
	return time.Duration(s.offset.Load()) * time.Millisecond
}

func (s *Session) Join(ctx context.Context) error {
	return s.publish(ctx, &model.JoinStream{Viewer: s.identity.viewer()})
}

func (s *Session) Tip(ctx context.Context, amount float64) error {
	return s.publish(ctx, &model.TipSent{Viewer: s.identity.viewer(), TipAmount: amount})
}

func (s *Session) Vote(ctx context.Context, promptID string, bull bool, amount float64) error {
	return s.publish(ctx, &model.VoteCast{
		Viewer:     s.identity.viewer(),
		VoteAmount: amount,
		IsBull:     bull,
		PromptID:   promptID,
	})
}

func (s *Session) Trade(ctx context.Context, in, out model.Token) error {
	return s.publish(ctx, &model.TokenTraded{Viewer: s.identity.viewer(), TokenIn: in, TokenOut: out})
}

func (s *Session) publish(ctx context.Context, p model.Payload) error {
	return s.bus.Publish(ctx, model.Event{StreamID: s.streamID, Payload: p})
}

// SeedTally loads an aggregate fetched from the server into the sentiment overlay.
func (s *Session) SeedTally(ctx context.Context, t model.VoteTally) error {
	return s.loop.Do(ctx, func() { s.sentiment.Seed(t) })
}

// Reconfigure applies reloaded presentation timing. The item on screen
// keeps its current timers.
func (s *Session) Reconfigure(ctx context.Context, cfg config.NotifyConfig) error {
	s.logger.Info("[SESSION] notify timing reloaded", "dwell", cfg.Dwell, "exit", cfg.Exit)
	return s.popup.SetTiming(ctx, cfg.Dwell, cfg.Exit)
}

// Inspect runs fn on the session loop with the queue, for diagnostics and tests.
func (s *Session) Inspect(ctx context.Context, fn func(q *notify.Queue)) error {
	return s.loop.Do(ctx, func() { fn(s.queue) })
}

// Close unmounts the overlays, releases every subscription, tears the
// transport down and stops the loop. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.popup.Close()
		s.sentiment.Close()
		s.markets.Close()

		s.timeSub.Close()
		for _, h := range s.hooks {
			h.Close()
		}
		s.bus.Close()

		err = s.transport.Disconnect()
		s.loop.Stop()
		s.logger.Info("[SESSION] closed")
	})
	return err
}

// onConnected runs on the transport read pump.
func (s *Session) onConnected(env *model.Envelope) {
	p, err := env.DecodePayload()
	if err == nil {
		if hello, ok := p.(*model.ConnectedPayload); ok && hello.ServerTime > 0 {
			s.offset.Store(hello.ServerTime - s.clock.Now().UnixMilli())
		}
	}

	s.requestTime()

	// [JOIN] announced once per session, not on every reconnect
	if s.joined.CompareAndSwap(false, true) {
		if err := s.Join(context.Background()); err != nil {
			s.joined.Store(false)
			s.logger.Warn("[SESSION] join not sent", "err", err)
		}
	}
}

func (s *Session) onDisconnected(*model.Envelope) {
	s.logger.Debug("[SESSION] channel down, waiting for reconnect")
}

func (s *Session) requestTime() {
	req := &model.TimeSync{RequestedAt: s.clock.Now().UnixMilli()}
	if err := s.transport.Emit(model.KindCurrentTime, req); err != nil {
		s.logger.Debug("[SESSION] time sync skipped", "err", err)
	}
}

// onTimeSync estimates the offset assuming a symmetric round trip.
func (s *Session) onTimeSync(ev model.Event) {
	ts, ok := ev.Payload.(*model.TimeSync)
	if !ok || ts.ServerTime == 0 {
		return
	}
	now := s.clock.Now().UnixMilli()
	rtt := now - ts.RequestedAt
	if rtt < 0 {
		return
	}
	s.offset.Store(ts.ServerTime + rtt/2 - now)
}
