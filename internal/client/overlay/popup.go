package overlay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/livecast/overlay-delivery-service/internal/client/bus"
	"github.com/livecast/overlay-delivery-service/internal/client/notify"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

var _ Surface = (*PopupOverlay)(nil)

// PopupOverlay is the generic toast feed: every viewer action goes through
// the session queue and is shown one at a time.
type PopupOverlay struct {
	loop      Loop
	queue     *notify.Queue
	presenter *notify.Presenter
	logger    *slog.Logger
	sub       *bus.Subscription
	closeOnce sync.Once
}

func NewPopupOverlay(src Subscriber, lp Loop, queue *notify.Queue, presenter *notify.Presenter, logger *slog.Logger) *PopupOverlay {
	o := &PopupOverlay{
		loop:      lp,
		queue:     queue,
		presenter: presenter,
		logger:    logger,
	}
	o.sub = src.SubscribeAll(func(ev model.Event) {
		lp.Post(func() { o.push(ev) })
	})
	return o
}

func (o *PopupOverlay) Name() string { return "popup" }

func (o *PopupOverlay) push(ev model.Event) {
	item, res := o.queue.Enqueue(ev)
	switch res {
	case notify.Enqueued, notify.Evicted:
		o.logger.Debug("[POPUP] queued",
			"item_id", item.ID,
			"seq", item.Seq,
			"kind", ev.Kind(),
			"result", res)
		o.presenter.Notify()
	}
}

// SetTiming applies new dwell/exit durations from a config reload.
func (o *PopupOverlay) SetTiming(ctx context.Context, dwell, exit time.Duration) error {
	return o.loop.Do(ctx, func() { o.presenter.SetTiming(dwell, exit) })
}

func (o *PopupOverlay) Close() {
	o.closeOnce.Do(func() {
		o.sub.Close()
		if err := o.loop.Do(context.Background(), o.presenter.Stop); err != nil {
			o.logger.Debug("[POPUP] loop already stopped", "err", err)
		}
	})
}
