package overlay

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/livecast/overlay-delivery-service/internal/client/bus"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

var _ Surface = (*SentimentOverlay)(nil)

// SentimentView is one render of the bull/bear poll panel.
type SentimentView struct {
	Tallies []model.VoteTally // sorted by prompt id
	// Latest is the most recent vote, cleared once its dwell ends.
	Latest *model.Display
}

const countedVotes = 4096

// SentimentOverlay accumulates vote-casted events into running tallies per
// prompt. It is a second consumer of votes, independent of the popup feed:
// two identical votes both count, a replayed event id counts once.
type SentimentOverlay struct {
	loop     Loop
	clock    clockwork.Clock
	renderer Renderer
	logger   *slog.Logger
	streamID string
	dwell    time.Duration

	// loop-owned
	tallies map[string]*model.VoteTally
	counted *lru.Cache[string, struct{}]
	latest  *model.Display
	timer   clockwork.Timer
	gen     uint64
	closed  bool

	sub       *bus.Subscription
	closeOnce sync.Once
}

func NewSentimentOverlay(src Subscriber, lp Loop, renderer Renderer, streamID string, dwell time.Duration, clock clockwork.Clock, logger *slog.Logger) *SentimentOverlay {
	counted, _ := lru.New[string, struct{}](countedVotes)
	o := &SentimentOverlay{
		loop:     lp,
		clock:    clock,
		renderer: renderer,
		logger:   logger,
		streamID: streamID,
		dwell:    dwell,
		tallies:  make(map[string]*model.VoteTally),
		counted:  counted,
	}
	o.sub = src.Subscribe(model.KindVoteCast, func(ev model.Event) {
		lp.Post(func() { o.apply(ev) })
	})
	return o
}

func (o *SentimentOverlay) Name() string { return "sentiment" }

// Seed replaces the tally of one prompt, e.g. with the server-side aggregate
// fetched when the overlay mounts. Must run on the loop.
func (o *SentimentOverlay) Seed(t model.VoteTally) {
	if o.closed {
		return
	}
	o.tallies[t.PromptID] = &t
	o.render()
}

// Tally returns a copy of the running tally for a prompt. Must run on the loop.
func (o *SentimentOverlay) Tally(promptID string) (model.VoteTally, bool) {
	t, ok := o.tallies[promptID]
	if !ok {
		return model.VoteTally{}, false
	}
	return *t, true
}

func (o *SentimentOverlay) apply(ev model.Event) {
	if o.closed {
		return
	}
	vote, ok := ev.Payload.(*model.VoteCast)
	if !ok {
		return
	}
	if ev.ID != "" {
		if seen, _ := o.counted.ContainsOrAdd(ev.ID, struct{}{}); seen {
			return
		}
	}

	t := o.tallies[vote.PromptID]
	if t == nil {
		t = &model.VoteTally{StreamID: o.streamID, PromptID: vote.PromptID}
		o.tallies[vote.PromptID] = t
	}
	if vote.IsBull {
		t.BullVotes++
		t.BullAmount += vote.VoteAmount
	} else {
		t.BearVotes++
		t.BearAmount += vote.VoteAmount
	}

	d := vote.Display()
	o.latest = &d
	o.armHighlight()
	o.render()
}

func (o *SentimentOverlay) armHighlight() {
	if o.timer != nil {
		o.timer.Stop()
	}
	o.gen++
	gen := o.gen
	o.timer = o.clock.AfterFunc(o.dwell, func() {
		o.loop.Post(func() {
			if o.closed || gen != o.gen {
				return
			}
			o.latest = nil
			o.timer = nil
			o.render()
		})
	})
}

func (o *SentimentOverlay) render() {
	view := SentimentView{Latest: o.latest}
	for _, id := range slices.Sorted(maps.Keys(o.tallies)) {
		view.Tallies = append(view.Tallies, *o.tallies[id])
	}
	o.renderer.RenderSentiment(view)
}

func (o *SentimentOverlay) Close() {
	o.closeOnce.Do(func() {
		o.sub.Close()
		err := o.loop.Do(context.Background(), func() {
			o.closed = true
			o.gen++
			if o.timer != nil {
				o.timer.Stop()
				o.timer = nil
			}
		})
		if err != nil {
			o.logger.Debug("[SENTIMENT] loop already stopped", "err", err)
		}
	})
}
