package server

import (
	"net"
	"sync"
	"time"
)

// JobRateLimiter restricts how frequently a single client host
// can submit print jobs via WebSocket.
type JobRateLimiter struct {
	mu        sync.Mutex
	attempts  map[string][]time.Time
	maxPerMin int
	now       func() time.Time
}

// NewJobRateLimiter creates a limiter allowing maxPerMinute jobs per client.
func NewJobRateLimiter(maxPerMinute int) *JobRateLimiter {
	return &JobRateLimiter{
		attempts:  make(map[string][]time.Time),
		maxPerMin: maxPerMinute,
		now:       time.Now,
	}
}

// Allow returns true if the client has not exceeded the rate limit.
// Connections from the same host share one budget.
func (rl *JobRateLimiter) Allow(clientAddr string) bool {
	if host, _, err := net.SplitHostPort(clientAddr); err == nil {
		clientAddr = host
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.recent(clientAddr, now)
	if len(recent) >= rl.maxPerMin {
		rl.attempts[clientAddr] = recent
		return false
	}

	rl.attempts[clientAddr] = append(recent, now)
	rl.prune(now)
	return true
}

func (rl *JobRateLimiter) recent(client string, now time.Time) []time.Time {
	cutoff := now.Add(-time.Minute)
	recent := make([]time.Time, 0, rl.maxPerMin)
	for _, t := range rl.attempts[client] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

// prune drops clients idle for over a minute.
func (rl *JobRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	for client, times := range rl.attempts {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(rl.attempts, client)
		}
	}
}
