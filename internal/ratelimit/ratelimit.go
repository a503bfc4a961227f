package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a simple in-memory sliding-window rate limiter
type Limiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
}

// New creates a new limiter allowing maxReqs events per window per key
func New(window time.Duration, maxReqs int) *Limiter {
	l := &Limiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
	}

	// Cleanup goroutine to remove old entries
	go l.cleanup()

	return l
}

// Allow records an event for the key if the limit permits. When denied it
// returns how long the caller has to wait until the oldest event leaves the
// window.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	reqs := l.requests[key]

	// Drop events outside the window
	filtered := reqs[:0]
	for _, t := range reqs {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}

	if len(filtered) >= l.maxReqs {
		retryAfter := filtered[0].Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.requests[key] = filtered
		return false, retryAfter
	}

	l.requests[key] = append(filtered, now)
	return true, 0
}

// cleanup periodically removes old entries to prevent memory leaks
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		cutoff := time.Now().Add(-l.window * 2) // Keep entries for 2x window

		for key, reqs := range l.requests {
			filtered := make([]time.Time, 0)
			for _, t := range reqs {
				if t.After(cutoff) {
					filtered = append(filtered, t)
				}
			}

			if len(filtered) == 0 {
				delete(l.requests, key)
			} else {
				l.requests[key] = filtered
			}
		}
		l.mu.Unlock()
	}
}
