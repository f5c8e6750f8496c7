package webhook

import (
	"sync"
	"time"
)

// DefaultRateLimit is the number of deliveries per window a subscription gets
// when it does not configure its own limit.
const DefaultRateLimit = 60

const defaultRateWindow = time.Minute

// RateLimiter counts deliveries per subscription across fixed windows. It is
// safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]rateWindow
	window  time.Duration
}

type rateWindow struct {
	start time.Time
	count int
}

func NewRateLimiter(window time.Duration) *RateLimiter {
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{windows: make(map[string]rateWindow), window: window}
}

// Allow reports whether subscription id may deliver now and, when it may,
// counts the delivery. Limits <= 0 fall back to DefaultRateLimit.
func (rl *RateLimiter) Allow(id string, limit int, now time.Time) bool {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	state := rl.windows[id]
	if state.start.IsZero() || now.Sub(state.start) >= rl.window {
		state = rateWindow{start: now}
	}
	if state.count >= limit {
		rl.windows[id] = state
		return false
	}
	state.count++
	rl.windows[id] = state
	return true
}

// ResetAt returns when the current window of subscription id ends.
func (rl *RateLimiter) ResetAt(id string, now time.Time) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	state, ok := rl.windows[id]
	if !ok || state.start.IsZero() {
		return now
	}
	return state.start.Add(rl.window)
}
