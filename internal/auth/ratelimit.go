package auth

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimitPruneThreshold is the number of tracked keys above which
// the limiter prunes expired entries to prevent unbounded growth.
const rateLimitPruneThreshold = 1000

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// rateLimiter counts events per key within a sliding window. Once max
// events fall inside the window the key is limited until they age out.
type rateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	events map[string][]time.Time
	now    func() time.Time
}

func newRateLimiter(window time.Duration, maxEvents int) *rateLimiter {
	return &rateLimiter{
		window: window,
		max:    maxEvents,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// prune drops events for key that fell out of the window and returns
// how many remain. Callers hold mu.
func (rl *rateLimiter) prune(key string, cutoff time.Time) int {
	if len(rl.events) > rateLimitPruneThreshold {
		for k, times := range rl.events {
			if len(times) == 0 || times[len(times)-1].Before(cutoff) {
				delete(rl.events, k)
			}
		}
	}

	recent := rl.events[key][:0]
	for _, t := range rl.events[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) == 0 {
		delete(rl.events, key)
	} else {
		rl.events[key] = recent
	}

	return len(recent)
}

// allow records an event for key unless it is limited. It returns false
// when the event was refused.
func (rl *rateLimiter) allow(key string) bool {
	_, ok := rl.reserve(key)
	return ok
}

// reserve records an event for key unless it is limited, and returns a
// func that withdraws that event again. The check and the record happen
// under one lock.
func (rl *rateLimiter) reserve(key string) (withdraw func(), ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if rl.prune(key, now.Add(-rl.window)) >= rl.max {
		return nil, false
	}

	rl.events[key] = append(rl.events[key], now)

	return func() { rl.withdraw(key, now) }, true
}

// withdraw removes one event recorded for key at the given time.
func (rl *rateLimiter) withdraw(key string, at time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	times := rl.events[key]
	for i, t := range times {
		if t.Equal(at) {
			times = append(times[:i], times[i+1:]...)
			break
		}
	}

	if len(times) == 0 {
		delete(rl.events, key)
	} else {
		rl.events[key] = times
	}
}
