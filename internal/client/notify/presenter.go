package notify

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultDwell = 2500 * time.Millisecond
	DefaultExit  = 500 * time.Millisecond
)

// State of the single display slot.
type State int

const (
	StateIdle State = iota
	StateShowing
	StateExiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateShowing:
		return "SHOWING"
	case StateExiting:
		return "EXITING"
	default:
		return "UNKNOWN"
	}
}

// Renderer draws the active item. Calls arrive on the session loop.
type Renderer interface {
	Show(item *QueueItem)
	Exit(item *QueueItem)
	Clear()
}

// Poster schedules a task on the session loop.
type Poster interface {
	Post(fn func()) bool
}

// Presenter drives the queue through IDLE -> SHOWING -> EXITING -> IDLE.
//
// Every method must run on the session loop. Timer callbacks are posted back
// to the loop and carry the generation they were armed in; a callback whose
// generation is stale is discarded, so Stop invalidates every armed timer.
type Presenter struct {
	name     string
	queue    *Queue
	loop     Poster
	clock    clockwork.Clock
	renderer Renderer
	logger   *slog.Logger

	dwell time.Duration
	exit  time.Duration

	state   State
	current *QueueItem
	gen     uint64
	timer   clockwork.Timer
	stopped bool
}

type PresenterOption func(*Presenter)

// WithTiming sets the dwell and exit durations of this surface.
func WithTiming(dwell, exit time.Duration) PresenterOption {
	return func(p *Presenter) { p.SetTiming(dwell, exit) }
}

func WithPresenterClock(c clockwork.Clock) PresenterOption {
	return func(p *Presenter) { p.clock = c }
}

func WithPresenterLogger(l *slog.Logger) PresenterOption {
	return func(p *Presenter) { p.logger = l }
}

func NewPresenter(name string, queue *Queue, loop Poster, renderer Renderer, opts ...PresenterOption) *Presenter {
	p := &Presenter{
		name:     name,
		queue:    queue,
		loop:     loop,
		clock:    clockwork.NewRealClock(),
		renderer: renderer,
		logger:   slog.Default(),
		dwell:    DefaultDwell,
		exit:     DefaultExit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetTiming changes durations for the next cycle; the one on screen keeps its timers.
func (p *Presenter) SetTiming(dwell, exit time.Duration) {
	if dwell > 0 {
		p.dwell = dwell
	}
	if exit >= 0 {
		p.exit = exit
	}
}

func (p *Presenter) State() State { return p.state }

// Notify tells an idle presenter that the queue may have work.
func (p *Presenter) Notify() {
	if p.stopped || p.state != StateIdle {
		return
	}

	item := p.queue.Advance()
	if item == nil {
		return
	}

	p.current = item
	p.state = StateShowing
	p.renderer.Show(item)
	p.logger.Debug("[PRESENTER] showing",
		"surface", p.name,
		"item_id", item.ID,
		"kind", item.Event.Kind(),
		"dwell", p.dwell)

	p.arm(p.dwell, p.onDwell)
}

// Stop cancels pending timers and detaches from the queue. The active item is
// left untouched; later callbacks are ignored.
func (p *Presenter) Stop() {
	if p.stopped {
		return
	}
	p.stopped = true
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.state = StateIdle
	p.current = nil
	p.renderer.Clear()
}

func (p *Presenter) arm(d time.Duration, next func()) {
	p.gen++
	gen := p.gen
	p.timer = p.clock.AfterFunc(d, func() {
		p.loop.Post(func() {
			if p.stopped || gen != p.gen {
				return
			}
			p.timer = nil
			next()
		})
	})
}

func (p *Presenter) onDwell() {
	item := p.current
	if item == nil || !p.queue.MarkExiting(item.ID) {
		// [STALE] the slot was cleared behind our back
		p.reset()
		p.Notify()
		return
	}
	p.state = StateExiting
	p.renderer.Exit(item)

	if p.exit == 0 {
		p.onExit()
		return
	}
	p.arm(p.exit, p.onExit)
}

func (p *Presenter) onExit() {
	if item := p.current; item != nil {
		p.queue.DismissActive(item.ID)
	}
	p.reset()
	p.Notify()
}

func (p *Presenter) reset() {
	p.state = StateIdle
	p.current = nil
	if p.queue.PeekActive() == nil && len(p.queue.pending) == 0 {
		p.renderer.Clear()
	}
}
