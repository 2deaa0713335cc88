// Package loop runs the single cooperative task queue of a viewer session.
//
// Every mutation of session state (queue, presenter, surfaces) is posted here
// and executed serially, in post order, on one goroutine. Producers on other
// goroutines (the transport read pump, timers) never touch that state directly.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrStopped is returned by Do after Stop.
var ErrStopped = errors.New("loop: stopped")

type Loop struct {
	logger *slog.Logger

	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New starts the loop goroutine.
func New(logger *slog.Logger) *Loop {
	l := &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post schedules fn. It never blocks; tasks posted after Stop are discarded.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopCh:
		return false
	default:
	}

	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish.
// Calling Do from inside a loop task deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() { defer close(done); fn() }) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-l.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the loop after the task in progress. Pending tasks are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.doneCh }

func (l *Loop) run() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.tasks) == 0 {
				l.mu.Unlock()
				break
			}
			batch := l.tasks
			l.tasks = nil
			l.mu.Unlock()

			for _, fn := range batch {
				select {
				case <-l.stopCh:
					return
				default:
				}
				l.exec(fn)
			}
		}
	}
}

// exec isolates a panicking task so the session keeps running.
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("PANIC_RECOVERED",
				"err", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}
