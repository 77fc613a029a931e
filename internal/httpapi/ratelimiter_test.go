package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterCheckLimit(t *testing.T) {
	rl := NewRateLimiter(5)
	defer rl.Stop()

	ip := "192.168.1.1"

	for i := 0; i < 5; i++ {
		assert.True(t, rl.CheckLimit(ip), "Request %d should be allowed", i+1)
	}

	assert.False(t, rl.CheckLimit(ip), "6th request should be denied")
}

func TestRateLimiterMultipleIPs(t *testing.T) {
	rl := NewRateLimiter(3)
	defer rl.Stop()

	ip1 := "192.168.1.1"
	ip2 := "192.168.1.2"

	// Each IP has an independent window
	for i := 0; i < 3; i++ {
		assert.True(t, rl.CheckLimit(ip1))
		assert.True(t, rl.CheckLimit(ip2))
	}

	assert.False(t, rl.CheckLimit(ip1))
	assert.False(t, rl.CheckLimit(ip2))
}

func TestRateLimiterGetRetryAfter(t *testing.T) {
	rl := NewRateLimiter(2)
	defer rl.Stop()

	ip := "192.168.1.1"

	rl.CheckLimit(ip)
	rl.CheckLimit(ip)
	rl.CheckLimit(ip)

	retryAfter := rl.GetRetryAfter(ip)
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 60)
}

func TestRateLimiterGetRetryAfterNoRequests(t *testing.T) {
	rl := NewRateLimiter(5)
	defer rl.Stop()

	assert.Equal(t, 0, rl.GetRetryAfter("192.168.1.1"))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2)
	defer rl.Stop()

	ip := "192.168.1.1"

	assert.True(t, rl.CheckLimit(ip))
	assert.True(t, rl.CheckLimit(ip))
	assert.False(t, rl.CheckLimit(ip))

	// Age the first request past the window
	rl.mu.Lock()
	rl.limits[ip].requests[0] = time.Now().UnixMilli() - 61000
	rl.mu.Unlock()

	assert.True(t, rl.CheckLimit(ip))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(5)
	defer rl.Stop()

	ip := "192.168.1.1"
	rl.CheckLimit(ip)

	rl.mu.RLock()
	_, exists := rl.limits[ip]
	rl.mu.RUnlock()
	assert.True(t, exists)

	rl.mu.Lock()
	state := rl.limits[ip]
	for i := range state.requests {
		state.requests[i] = time.Now().UnixMilli() - 61000
	}
	rl.mu.Unlock()

	rl.cleanup()

	rl.mu.RLock()
	_, exists = rl.limits[ip]
	rl.mu.RUnlock()
	assert.False(t, exists)
}

func TestRateLimiterStop(t *testing.T) {
	rl := NewRateLimiter(5)

	assert.NotPanics(t, func() {
		rl.Stop()
	})
}
