package transport

import "sync"

// Subscription is the handle returned by On. Close unregisters the handler
// and may be called any number of times.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps cancel in a handle.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}
