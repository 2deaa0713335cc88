package overlay

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/livecast/overlay-delivery-service/internal/client/bus"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

var _ Surface = (*MarketsOverlay)(nil)

const DefaultTapeSize = 20

// Trade is one line of the markets tape.
type Trade struct {
	Pair string
	Text string
	At   time.Time
}

// PairVolume aggregates trades of one token pair since the overlay mounted.
type PairVolume struct {
	Pair     string
	Trades   int
	VolumeIn float64 // tokenIn amount in display units
}

// MarketsView is one render of the markets panel. Tape is newest first.
type MarketsView struct {
	Tape  []Trade
	Pairs []PairVolume // sorted by pair
}

// MarketsOverlay keeps a bounded tape of recent token-traded events.
type MarketsOverlay struct {
	loop     Loop
	renderer Renderer
	logger   *slog.Logger
	size     int

	// loop-owned
	tape   []Trade
	volume map[string]*PairVolume
	closed bool

	sub       *bus.Subscription
	closeOnce sync.Once
}

func NewMarketsOverlay(src Subscriber, lp Loop, renderer Renderer, tapeSize int, logger *slog.Logger) *MarketsOverlay {
	if tapeSize <= 0 {
		tapeSize = DefaultTapeSize
	}
	o := &MarketsOverlay{
		loop:     lp,
		renderer: renderer,
		logger:   logger,
		size:     tapeSize,
		volume:   make(map[string]*PairVolume),
	}
	o.sub = src.Subscribe(model.KindTokenTraded, func(ev model.Event) {
		lp.Post(func() { o.apply(ev) })
	})
	return o
}

func (o *MarketsOverlay) Name() string { return "markets" }

func (o *MarketsOverlay) apply(ev model.Event) {
	if o.closed {
		return
	}
	trade, ok := ev.Payload.(*model.TokenTraded)
	if !ok {
		return
	}

	pair := trade.Pair()
	o.tape = append([]Trade{{Pair: pair, Text: trade.Display().Text, At: ev.ReceivedAt}}, o.tape...)
	if len(o.tape) > o.size {
		o.tape = o.tape[:o.size]
	}

	v := o.volume[pair]
	if v == nil {
		v = &PairVolume{Pair: pair}
		o.volume[pair] = v
	}
	v.Trades++
	if amount, err := strconv.ParseFloat(trade.TokenIn.HumanAmount(), 64); err == nil {
		v.VolumeIn += amount
	}

	o.renderer.RenderMarkets(o.view())
}

// View snapshots the panel. Must run on the loop.
func (o *MarketsOverlay) View() MarketsView { return o.view() }

func (o *MarketsOverlay) view() MarketsView {
	view := MarketsView{Tape: slices.Clone(o.tape)}
	for _, pair := range slices.Sorted(maps.Keys(o.volume)) {
		view.Pairs = append(view.Pairs, *o.volume[pair])
	}
	return view
}

func (o *MarketsOverlay) Close() {
	o.closeOnce.Do(func() {
		o.sub.Close()
		if err := o.loop.Do(context.Background(), func() { o.closed = true }); err != nil {
			o.logger.Debug("[MARKETS] loop already stopped", "err", err)
		}
	})
}
