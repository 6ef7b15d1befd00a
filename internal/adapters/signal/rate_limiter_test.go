package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoomRateLimiterWindow(t *testing.T) {
	rl := NewRoomRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u2"), "limits are per user")

	now = now.Add(30 * time.Second)
	assert.False(t, rl.Allow("u1"))

	now = now.Add(31 * time.Second)
	assert.True(t, rl.Allow("u1"))
}
