package httpapi

import (
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter limits chat requests per client with a sliding one minute
// window. A limit of zero disables it.
type RateLimiter struct {
	limit    int
	requests map[string][]time.Time
	now      func() time.Time
	mu       sync.Mutex

	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		limit:           perMinute,
		requests:        make(map[string][]time.Time),
		now:             time.Now,
		cleanupInterval: 5 * time.Minute,
		stop:            make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow records a request from client and reports whether it is within the limit
func (rl *RateLimiter) Allow(client string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := prune(rl.requests[client], now)
	if len(recent) >= rl.limit {
		rl.requests[client] = recent
		return false
	}
	rl.requests[client] = append(recent, now)
	return true
}

// RetryAfter returns whole seconds until the oldest request of client leaves the window
func (rl *RateLimiter) RetryAfter(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	reqs := rl.requests[client]
	if len(reqs) == 0 {
		return 0
	}
	wait := rateWindow - rl.now().Sub(reqs[0])
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Second - 1) / time.Second)
}

func prune(reqs []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(reqs) && now.Sub(reqs[i]) >= rateWindow {
		i++
	}
	return reqs[i:]
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for client, reqs := range rl.requests {
		if recent := prune(reqs, now); len(recent) == 0 {
			delete(rl.requests, client)
		} else {
			rl.requests[client] = recent
		}
	}
}

// Stop ends the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
