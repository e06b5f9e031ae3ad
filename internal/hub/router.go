package hub

import (
	"encoding/json"
	"log"
	"time"

	"github.com/xelth-com/cdchub/internal/protocol"
)

// Metrics receives the counters the Router and Session emit as they
// process traffic. internal/httpapi's *Metrics satisfies this; the
// interface lives here instead so this package never has to import the
// HTTP surface just to report a count.
type Metrics interface {
	MessageRouted()
	ConflictRecorded()
	RateLimited()
	FrameShed()
}

// Router is the isolation-critical core: it resolves destinations,
// enforces tenant isolation, and dispatches to online sessions or the
// offline queue. It never blocks the calling reader goroutine longer than
// a single enqueue attempt.
type Router struct {
	registry     *Registry
	dir          *Directory
	queue        *OfflineQueue
	limits       *RateLimiters
	audit        *Auditor
	conflicts    *ConflictRecorder
	transactions *TransactionRecorder
	metrics      Metrics
}

func NewRouter(registry *Registry, dir *Directory, queue *OfflineQueue, limits *RateLimiters, audit *Auditor, conflicts *ConflictRecorder, transactions *TransactionRecorder, metrics Metrics) *Router {
	return &Router{registry: registry, dir: dir, queue: queue, limits: limits, audit: audit, conflicts: conflicts, transactions: transactions, metrics: metrics}
}

func (r *Router) maxBranches(tenantID string) int {
	policy, ok := r.dir.TenantPolicy(tenantID)
	if !ok {
		return 0
	}
	return policy.MaxBranches
}

func (r *Router) maxBranchConnections(tenantID string) int {
	policy, ok := r.dir.TenantPolicy(tenantID)
	if !ok {
		return 1
	}
	return policy.MaxBranchConnections
}

// highPriority reports whether an envelope kind must never be shed by a
// Session's outbound queue.
func highPriority(k protocol.Kind) bool {
	return k == protocol.KindControl || k == protocol.KindSyncAck
}

// Route dispatches one inbound envelope. The envelope's tenant_id and from
// fields must already have been re-stamped by the caller from the
// authenticated session identity — Route trusts them as given.
func (r *Router) Route(m protocol.Envelope) {
	r.route(m, true)
}

// route is Route's implementation, with recordConflict controlling whether
// a ConflictNotification passing through gets persisted. DrainOffline calls
// this with recordConflict false: the notification was already persisted
// the first time it was routed, before it was queued offline, and
// redelivering it on reconnect must not write a second conflict_resolutions
// row for the same conflict.
func (r *Router) route(m protocol.Envelope, recordConflict bool) {
	policy, ok := r.dir.TenantPolicy(m.TenantID)
	if !ok || !policy.Active {
		r.audit.Record(m.TenantID, m.From, "TenantInactive", "", nil)
		return
	}

	if !r.limits.Allow(m.TenantID, m.From, policy.RateLimitPerSec) {
		r.metrics.RateLimited()
		r.notifyRateLimited(m)
		return
	}

	r.metrics.MessageRouted()

	switch m.Kind {
	case protocol.KindConflictNotification:
		if recordConflict {
			r.conflicts.Record(m)
			r.metrics.ConflictRecorded()
		}
	case protocol.KindSyncBatch:
		var payload protocol.SyncBatchPayload
		if err := json.Unmarshal(m.Payload, &payload); err == nil {
			r.transactions.Begin(m.TenantID, m.From, payload.BatchID)
		}
	case protocol.KindSyncAck:
		var payload protocol.SyncAckPayload
		if err := json.Unmarshal(m.Payload, &payload); err == nil {
			r.transactions.Complete(payload.BatchID, "applied", len(payload.AppliedIDs), len(payload.ConflictIDs))
		}
	case protocol.KindSyncNack:
		var payload protocol.SyncNackPayload
		if err := json.Unmarshal(m.Payload, &payload); err == nil {
			r.transactions.Complete(payload.BatchID, "nacked", 0, 0)
		}
	}

	if m.To != "" {
		r.routeDirect(m, policy)
		return
	}
	r.routeBroadcast(m, policy)
}

func (r *Router) routeDirect(m protocol.Envelope, policy TenantPolicy) {
	target := r.registry.Lookup(m.TenantID, m.To)

	if target != nil {
		// Defense in depth: the Registry is keyed by (tenant, branch), so
		// a cross-tenant handle can never be returned by construction.
		// This assertion exists to catch a broken invariant, not because
		// it is expected to fire.
		if target.TenantID != m.TenantID {
			r.audit.Record(m.TenantID, m.From, "CrossTenantAttempt", "", map[string]interface{}{"to": m.To})
			return
		}
		r.deliver(target, m)
		return
	}

	if !r.dir.BranchExists(m.TenantID, m.To) {
		r.audit.Record(m.TenantID, m.From, "UnknownTarget", "", map[string]interface{}{"to": m.To})
		return
	}
	r.enqueueOffline(m, m.To, policy)
}

func (r *Router) routeBroadcast(m protocol.Envelope, policy TenantPolicy) {
	online := make(map[string]struct{})
	for _, h := range r.registry.IterTenant(m.TenantID) {
		if h.BranchID == m.From {
			continue
		}
		online[h.BranchID] = struct{}{}
		r.deliver(h, m)
	}

	for _, branchID := range r.dir.TenantBranchIDs(m.TenantID) {
		if branchID == m.From {
			continue
		}
		if _, isOnline := online[branchID]; isOnline {
			continue
		}
		r.enqueueOffline(m, branchID, policy)
	}
}

func (r *Router) deliver(target *SessionHandle, m protocol.Envelope) {
	frame, err := protocol.Encode(m)
	if err != nil {
		log.Printf("⚠️  router encode failed kind=%s err=%v", m.Kind, err)
		return
	}
	target.Enqueue(frame, highPriority(m.Kind))
}

func (r *Router) enqueueOffline(m protocol.Envelope, branchID string, policy TenantPolicy) {
	frame, err := protocol.Encode(m)
	if err != nil {
		log.Printf("⚠️  router encode failed kind=%s err=%v", m.Kind, err)
		return
	}
	if err := r.queue.Enqueue(m.TenantID, branchID, frame, 5, policy.OfflineTTL); err != nil {
		log.Printf("⚠️  offline enqueue failed tenant=%s branch=%s err=%v", m.TenantID, branchID, err)
	}
}

// enqueueOfflineFrame persists an already-encoded frame for a branch,
// resolving the tenant's offline TTL itself. Used when a caller (session
// displacement) only has raw bytes on hand, not the original envelope.
func (r *Router) enqueueOfflineFrame(tenantID, branchID string, frame []byte) error {
	policy, ok := r.dir.TenantPolicy(tenantID)
	ttl := policy.OfflineTTL
	if !ok || ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return r.queue.Enqueue(tenantID, branchID, frame, 5, ttl)
}

func (r *Router) notifyRateLimited(m protocol.Envelope) {
	sender := r.registry.Lookup(m.TenantID, m.From)
	if sender == nil {
		return
	}
	ctrl, _ := protocol.NewEnvelope(protocol.KindControl, protocol.ControlPayload{Code: protocol.ControlRateLimited})
	ctrl.TenantID, ctrl.From = m.TenantID, m.From
	if frame, err := protocol.Encode(ctrl); err == nil {
		sender.Enqueue(frame, true)
	}
}

// DrainOffline delivers queued envelopes for a branch that just came
// online, through the same Route path used for live traffic so ordering
// and rate limits apply uniformly. Each drained envelope is addressed to
// branchID before it is re-routed, so an envelope that was queued from a
// broadcast reaches only this branch rather than the whole tenant again.
// The caller must not invoke this until the branch's session is already
// registered, or the redelivery has nowhere to land and the drained
// messages are lost.
func (r *Router) DrainOffline(tenantID, branchID string, max int) {
	frames, err := r.queue.Drain(tenantID, branchID, max)
	if err != nil {
		log.Printf("⚠️  offline drain failed tenant=%s branch=%s err=%v", tenantID, branchID, err)
		return
	}
	for _, frame := range frames {
		env, err := protocol.Decode(frame)
		if err != nil {
			continue
		}
		env.To = branchID
		r.route(env, false)
	}
}
