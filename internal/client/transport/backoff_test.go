package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DelayGrowsAndCaps(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 2, 0)

	assert.Equal(t, time.Duration(0), b.Delay(0))
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 800*time.Millisecond, b.Delay(4))
	assert.Equal(t, time.Second, b.Delay(5))
	assert.Equal(t, time.Second, b.Delay(500))
}

func TestBackoff_Exhausted(t *testing.T) {
	forever := NewBackoff(time.Millisecond, time.Second, 2, 0)
	assert.False(t, forever.Exhausted(1_000_000))

	three := NewBackoff(time.Millisecond, time.Second, 2, 3)
	assert.False(t, three.Exhausted(3))
	assert.True(t, three.Exhausted(4))
}

func TestNewBackoff_FallsBackToDefaults(t *testing.T) {
	b := NewBackoff(0, 0, 0.5, -1)
	assert.Equal(t, DefaultBackoff(), b)

	capped := NewBackoff(time.Minute, time.Second, 2, 0)
	assert.Equal(t, time.Second, capped.Initial)
}
