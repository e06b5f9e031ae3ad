package hub

import "testing"

func TestRateLimitersZeroPerSecAlwaysAllows(t *testing.T) {
	rl := NewRateLimiters()
	for i := 0; i < 50; i++ {
		if !rl.Allow("t1", "b1", 0) {
			t.Fatal("perSec <= 0 must never throttle")
		}
	}
}

func TestRateLimitersEnforcesBurst(t *testing.T) {
	rl := NewRateLimiters()

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("t1", "b1", 2) {
			allowed++
		}
	}

	if allowed < 1 || allowed > 2 {
		t.Errorf("expected burst of ~2 tokens to be allowed immediately, got %d", allowed)
	}
}

func TestRateLimitersIsolatedPerBranch(t *testing.T) {
	rl := NewRateLimiters()

	for i := 0; i < 2; i++ {
		rl.Allow("t1", "b1", 2)
	}
	// b1's bucket is drained, but b2 under the same tenant must have its
	// own independent bucket.
	if !rl.Allow("t1", "b2", 2) {
		t.Error("expected a separate branch to have its own limiter")
	}
}

func TestRateLimitersForgetDropsLimiter(t *testing.T) {
	rl := NewRateLimiters()
	rl.Allow("t1", "b1", 1)
	rl.Allow("t1", "b1", 1)

	rl.Forget("t1", "b1")

	if _, ok := rl.limiters[key{"t1", "b1"}]; ok {
		t.Error("expected Forget to remove the limiter entry")
	}
}
