package httpapi

import (
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter implements per-client rate limiting with a one minute sliding
// window.
type RateLimiter struct {
	limits            map[string][]time.Time
	maxRequestsPerMin int
	now               func() time.Time
	mu                sync.Mutex
	cleanupInterval   time.Duration
	stopCleanup       chan struct{}
	stopOnce          sync.Once
}

// NewRateLimiter creates a limiter. maxRequestsPerMinute <= 0 disables
// limiting.
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limits:            make(map[string][]time.Time),
		maxRequestsPerMin: maxRequestsPerMinute,
		now:               time.Now,
		cleanupInterval:   5 * time.Minute,
		stopCleanup:       make(chan struct{}),
	}

	if maxRequestsPerMinute > 0 {
		go rl.startCleanup()
	}

	return rl
}

// Allow records a request from key when it fits in the window. When it does
// not, it returns false and the time until the oldest request expires.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if rl.maxRequestsPerMin <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	requests := prune(rl.limits[key], now)

	if len(requests) >= rl.maxRequestsPerMin {
		rl.limits[key] = requests
		return false, rateWindow - now.Sub(requests[0])
	}

	rl.limits[key] = append(requests, now)
	return true, 0
}

// RetryAfterSeconds rounds d up to whole seconds, at least 1.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func prune(requests []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(requests) && now.Sub(requests[i]) >= rateWindow {
		i++
	}
	return requests[i:]
}

func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops keys with no requests inside the window.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, requests := range rl.limits {
		valid := prune(requests, now)
		if len(valid) == 0 {
			delete(rl.limits, key)
		} else {
			rl.limits[key] = valid
		}
	}
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limits)
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
