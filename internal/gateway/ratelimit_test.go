package gateway

import (
	"fmt"
	"testing"
)

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 5)
	if rl.Enabled() {
		t.Error("rpm=0 should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("client") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("client") {
			allowed++
		}
	}
	// 3 burst tokens plus at most one refilled during the loop.
	if allowed < 3 || allowed > 4 {
		t.Errorf("allowed %d immediate requests, want the burst of 3", allowed)
	}
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	if !rl.Allow("a") {
		t.Fatal("first request for client a rejected")
	}
	if rl.Allow("a") {
		t.Error("client a exceeded its burst")
	}
	if !rl.Allow("b") {
		t.Error("client b throttled by client a's usage")
	}
}

func TestRateLimiter_PruneKeepsRecent(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	for i := 0; i < 2000; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}
	rl.mu.Lock()
	n := len(rl.clients)
	rl.mu.Unlock()
	// All clients are recent, so pruning must not evict them.
	if n != 2000 {
		t.Errorf("tracked %d clients, want 2000", n)
	}
}
