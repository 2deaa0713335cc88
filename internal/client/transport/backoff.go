package transport

import (
	"time"
)

// Backoff is a capped exponential reconnect policy. It is immutable after construction.
type Backoff struct {
	Initial    time.Duration // delay before the first retry
	Max        time.Duration // cap for growth
	Multiplier float64       // growth factor per retry, >= 1
	MaxRetries int           // retries after the first failure, 0 retries forever
}

// DefaultBackoff returns 500ms doubling up to 30s, retrying forever.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2}
}

// NewBackoff builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewBackoff(initial, maxDelay time.Duration, multiplier float64, maxRetries int) Backoff {
	b := DefaultBackoff()
	if initial > 0 {
		b.Initial = initial
	}
	if maxDelay > 0 {
		b.Max = maxDelay
	}
	if multiplier >= 1 {
		b.Multiplier = multiplier
	}
	if maxRetries > 0 {
		b.MaxRetries = maxRetries
	}
	if b.Initial > b.Max {
		b.Initial = b.Max
	}
	return b
}

// Delay returns the wait before the given retry (1-based: first retry => 1).
func (b Backoff) Delay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	d := float64(b.Initial)
	for i := 1; i < retry; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}

// Exhausted reports whether failures consecutive failed attempts use up the policy.
func (b Backoff) Exhausted(failures int) bool {
	return b.MaxRetries > 0 && failures > b.MaxRetries
}
