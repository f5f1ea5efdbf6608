package security

import (
	"fmt"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst should be rejected")
	}

	if !rl.Allow("10.0.0.2") {
		t.Error("a different identifier must have its own bucket")
	}
}

func TestRateLimiter_NilAllowsEverything(t *testing.T) {
	var rl *RateLimiter
	for i := 0; i < 10; i++ {
		if !rl.Allow("anyone") {
			t.Fatal("nil limiter should allow every request")
		}
	}
	rl.Stop()
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()
	rl.maxEntries = 3

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}

	if got := rl.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	rl.Allow("old")
	rl.Allow("new")

	rl.mu.Lock()
	rl.limiters["old"].Value.(*limiterEntry).lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.Cleanup(time.Minute)

	if got := rl.Len(); got != 1 {
		t.Fatalf("Len() = %d after cleanup, want 1", got)
	}
	rl.mu.Lock()
	_, stillThere := rl.limiters["new"]
	rl.mu.Unlock()
	if !stillThere {
		t.Error("recently used entry must survive cleanup")
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
