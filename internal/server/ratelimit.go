package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per client IP
type clientLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(requestsPerMinute, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		clients: make(map[string]*limiterEntry),
	}
}

// Allow reports whether a request from ip may proceed now
func (c *clientLimiter) Allow(ip string) bool {
	c.mu.Lock()
	entry, ok := c.clients[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[ip] = entry
	}
	entry.lastSeen = time.Now()
	c.mu.Unlock()

	return entry.limiter.Allow()
}

// cleanup forgets clients idle for longer than maxIdle
func (c *clientLimiter) cleanup(maxIdle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for ip, entry := range c.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(c.clients, ip)
			removed++
		}
	}
	return removed
}

func (c *clientLimiter) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}
