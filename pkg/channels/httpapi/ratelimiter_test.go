package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2)
	defer rl.Stop()
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("1.2.3.4")
	assert.True(t, ok)
	now = now.Add(20 * time.Second)
	ok, _ = rl.Allow("1.2.3.4")
	assert.True(t, ok)

	ok, retry := rl.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, retry)
	assert.Equal(t, 40, RetryAfterSeconds(retry))

	ok, _ = rl.Allow("5.6.7.8")
	assert.True(t, ok, "limits are per key")

	now = now.Add(41 * time.Second)
	ok, _ = rl.Allow("1.2.3.4")
	assert.True(t, ok, "oldest request left the window")

	now = now.Add(2 * time.Minute)
	rl.cleanup()
	assert.Zero(t, rl.tracked())
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0)
	defer rl.Stop()
	for i := 0; i < 100; i++ {
		ok, _ := rl.Allow("k")
		assert.True(t, ok)
	}
	assert.Zero(t, rl.tracked())
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, RetryAfterSeconds(1001*time.Millisecond))
}
