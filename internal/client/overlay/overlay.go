// Package overlay implements the on-screen surfaces of a viewer session.
//
// Surfaces consume bus events on the session loop. The popup feed drains the
// shared notification queue through a Presenter, the sentiment and markets
// surfaces keep their own aggregate state.
package overlay

import (
	"context"

	"github.com/livecast/overlay-delivery-service/internal/client/bus"
	"github.com/livecast/overlay-delivery-service/internal/client/notify"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

// Subscriber is the part of the bus adapter surfaces listen on.
type Subscriber interface {
	Subscribe(kind model.Kind, listener bus.Listener) *bus.Subscription
	SubscribeAll(listener bus.Listener) *bus.Subscription
}

// Loop runs surface work serially. It is satisfied by *loop.Loop.
type Loop interface {
	notify.Poster
	Do(ctx context.Context, fn func()) error
}

// Surface is an overlay mounted on a session. Close unregisters listeners and
// cancels timers; it is safe to call more than once.
type Surface interface {
	Name() string
	Close()
}

// Renderer draws every surface. Calls arrive on the session loop.
type Renderer interface {
	notify.Renderer
	RenderSentiment(view SentimentView)
	RenderMarkets(view MarketsView)
}
