package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter bounds turn requests per client.
// rpm > 0 enables limiting at that rate; rpm <= 0 disables it.
type RateLimiter struct {
	rpm   int
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rpm:     rpm,
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

// Enabled reports whether limiting is active.
func (r *RateLimiter) Enabled() bool { return r != nil && r.rpm > 0 }

// Allow reports whether clientID may make a request now.
func (r *RateLimiter) Allow(clientID string) bool {
	if !r.Enabled() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		c = &clientLimiter{
			lim: rate.NewLimiter(rate.Limit(float64(r.rpm)/60.0), r.burst),
		}
		r.clients[clientID] = c
		r.pruneLocked()
	}
	c.lastSeen = time.Now()
	return c.lim.Allow()
}

// pruneLocked drops limiters idle for over an hour. Called with mu held,
// only when a new client appears, so steady-state requests pay nothing.
func (r *RateLimiter) pruneLocked() {
	if len(r.clients) < 1024 {
		return
	}
	cutoff := time.Now().Add(-time.Hour)
	for id, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, id)
		}
	}
}
