package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurstAndRefill(t *testing.T) {
	now := time.Unix(0, 0)
	rl := newRateLimiter(3, time.Second)
	rl.now = func() time.Time { return now }
	rl.lastCheck = now

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "burst token %d", i)
	}
	assert.False(t, rl.allow())

	now = now.Add(400 * time.Millisecond)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow())
	}
	assert.False(t, rl.allow(), "tokens are capped at capacity")
}

func TestRateLimiterInvalidParameters(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.Equal(t, 1.0, rl.capacity)
	assert.Equal(t, 1.0, rl.rate)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}
