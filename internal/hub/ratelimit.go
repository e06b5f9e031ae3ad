package hub

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const redisOpTimeout = 200 * time.Millisecond

// RateLimiters holds one token bucket per (tenant, branch), the
// per-connection rate limit the Router applies before dispatching an
// envelope (step 4 of the routing procedure). With a Redis client attached
// the bucket is a fixed-window counter shared across hub instances instead
// of a purely local one.
type RateLimiters struct {
	mu       sync.Mutex
	limiters map[key]*rate.Limiter
	redis    *redis.Client
}

func NewRateLimiters() *RateLimiters {
	return &RateLimiters{limiters: make(map[key]*rate.Limiter)}
}

// NewSharedRateLimiters backs Allow with Redis INCR/EXPIRE counters keyed
// per (tenant, branch) so multiple hub instances behind a load balancer
// enforce one shared per-branch rate instead of one bucket per instance.
// A nil client, or any Redis error at call time, falls back to the
// in-process limiter — rate limiting is advisory, never a correctness
// dependency.
func NewSharedRateLimiters(client *redis.Client) *RateLimiters {
	return &RateLimiters{limiters: make(map[key]*rate.Limiter), redis: client}
}

// Allow reports whether a message from (tenant, branch) may proceed right
// now, given that tenant's configured rate_limit_per_sec. Bursts of up to
// one second's worth of traffic are permitted.
func (rl *RateLimiters) Allow(tenantID, branchID string, perSec int) bool {
	if perSec <= 0 {
		return true
	}
	if rl.redis != nil {
		if allowed, ok := rl.allowShared(tenantID, branchID, perSec); ok {
			return allowed
		}
	}
	return rl.allowLocal(tenantID, branchID, perSec)
}

func redisRateLimitKey(tenantID, branchID string) string {
	return "cdchub:ratelimit:" + tenantID + ":" + branchID
}

// allowShared increments the shared counter and reports (allowed, ok);
// ok is false when Redis itself failed, telling Allow to fail open to the
// local limiter rather than block traffic on a degraded cache.
func (rl *RateLimiters) allowShared(tenantID, branchID string, perSec int) (bool, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	k := redisRateLimitKey(tenantID, branchID)
	count, err := rl.redis.Incr(ctx, k).Result()
	if err != nil {
		return false, false
	}
	if count == 1 {
		rl.redis.Expire(ctx, k, time.Second)
	}
	return count <= int64(perSec), true
}

func (rl *RateLimiters) allowLocal(tenantID, branchID string, perSec int) bool {
	k := key{tenantID, branchID}

	rl.mu.Lock()
	lim, ok := rl.limiters[k]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(perSec), perSec)
		rl.limiters[k] = lim
	}
	rl.mu.Unlock()

	return lim.Allow()
}

// Forget drops the limiter for a branch once it disconnects, so a
// long-lived hub does not accumulate one limiter per historical
// connection.
func (rl *RateLimiters) Forget(tenantID, branchID string) {
	rl.mu.Lock()
	delete(rl.limiters, key{tenantID, branchID})
	rl.mu.Unlock()

	if rl.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		defer cancel()
		rl.redis.Del(ctx, redisRateLimitKey(tenantID, branchID))
	}
}
