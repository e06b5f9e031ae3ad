// Package cache wraps the auxiliary key/value store (Redis) used for
// session-presence caching, cross-instance rate-limit counters, and the
// pub/sub fan-out channel that lets multiple hub instances behind a sticky
// load balancer forward envelopes to a branch connected to a peer
// instance. Everything here is advisory: losing the cache degrades
// multi-node fan-out to per-instance-only routing but never breaks
// correctness, since the Offline Queue remains the durable fallback.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fanout publishes and subscribes to per-tenant pub/sub channels so a
// remote hub instance hosting the destination branch's session can deliver
// an envelope this instance received but cannot route locally.
type Fanout struct {
	client   *redis.Client
	instance string
}

// RemoteEnvelope is the wire shape published on a tenant's fan-out
// channel: the raw protocol frame plus the branch it targets, so a
// subscriber can decide locally whether it owns that branch's session.
type RemoteEnvelope struct {
	TargetBranchID string `json:"target_branch_id"`
	Frame          []byte `json:"frame"`
	OriginInstance string `json:"origin_instance"`
}

// NewFanout connects to redisURL. A blank URL disables fan-out entirely;
// callers should check Enabled() before use.
func NewFanout(redisURL, instanceID string) *Fanout {
	if redisURL == "" {
		return &Fanout{}
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("⚠️  cache: invalid REDIS_URL, fan-out disabled: %v", err)
		return &Fanout{}
	}
	return &Fanout{client: redis.NewClient(opts), instance: instanceID}
}

func (f *Fanout) Enabled() bool { return f.client != nil }

// Client exposes the underlying Redis client so other advisory-cache
// consumers (the hub's shared rate limiter) can reuse the same connection
// pool instead of dialing Redis a second time.
func (f *Fanout) Client() *redis.Client { return f.client }

func channelName(tenantID string) string { return "cdchub:fanout:" + tenantID }

// Publish broadcasts an envelope frame to every hub instance subscribed to
// the tenant's channel. Redis preserves publish order per channel for a
// single publisher, which is what lets this satisfy per-sender FIFO
// end-to-end across instances; see the multi-node fan-out design note.
func (f *Fanout) Publish(ctx context.Context, tenantID, targetBranchID string, frame []byte) error {
	if !f.Enabled() {
		return nil
	}
	body, err := json.Marshal(RemoteEnvelope{
		TargetBranchID: targetBranchID,
		Frame:          frame,
		OriginInstance: f.instance,
	})
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, channelName(tenantID), body).Err()
}

// Subscribe starts listening on a tenant's channel and invokes handle for
// every RemoteEnvelope received that this instance did not itself
// publish. The subscription runs until ctx is cancelled.
func (f *Fanout) Subscribe(ctx context.Context, tenantID string, handle func(RemoteEnvelope)) {
	if !f.Enabled() {
		return
	}
	sub := f.client.Subscribe(ctx, channelName(tenantID))
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var re RemoteEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &re); err != nil {
					continue
				}
				if re.OriginInstance == f.instance {
					continue
				}
				handle(re)
			}
		}
	}()
}

// SetSessionPresence advertises that this instance currently hosts the
// live session for (tenant, branch), with a short TTL refreshed by the
// caller on each heartbeat so a crashed instance's stale entries expire.
func (f *Fanout) SetSessionPresence(ctx context.Context, tenantID, branchID string, ttl time.Duration) {
	if !f.Enabled() {
		return
	}
	key := "cdchub:presence:" + tenantID + ":" + branchID
	f.client.Set(ctx, key, f.instance, ttl)
}

// ClearSessionPresence removes the presence key on clean session shutdown.
func (f *Fanout) ClearSessionPresence(ctx context.Context, tenantID, branchID string) {
	if !f.Enabled() {
		return
	}
	key := "cdchub:presence:" + tenantID + ":" + branchID
	f.client.Del(ctx, key)
}
