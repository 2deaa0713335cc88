package bus

import "sync"

// Subscription is a listener handle. Close is idempotent.
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
