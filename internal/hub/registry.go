// Package hub implements the hub-side message plane: the Connection
// Registry, Router, Offline Queue and rate limiter that together route
// SyncBatch/SyncAck traffic between branches of the same tenant.
package hub

import (
	"errors"
	"sync"
)

// ErrTenantBranchLimit is returned when inserting a session for a branch
// id not already present would exceed the tenant's configured cap on
// distinct connected branches.
var ErrTenantBranchLimit = errors.New("hub: tenant branch limit exceeded")

// ErrBranchConnectionLimit is returned when a branch already holding a
// session tries to reconnect while the tenant's per-branch connection
// policy forbids it (maxBranchConnections == 0). The default policy value
// of 1 permits the normal reconnect-displaces-old-session flow instead.
var ErrBranchConnectionLimit = errors.New("hub: branch connection limit exceeded")

// SessionHandle is the Registry's weak reference to a live Session: enough
// to enqueue an envelope or evict, never enough to control its lifetime.
type SessionHandle struct {
	SessionID string
	TenantID  string
	BranchID  string

	// Enqueue hands the envelope to the session's outbound queue. It
	// returns false if the queue was full and the message was shed
	// instead of delivered (see the Session's backpressure policy).
	Enqueue func(frame []byte, highPriority bool) bool

	// Displace asks the underlying session to close after notifying the
	// peer it has been displaced by a newer connection. It is handed the
	// handle that is taking its place, so anything already buffered for
	// delivery can be redirected instead of dropped.
	Displace func(newHandle *SessionHandle)
}

type key struct {
	tenantID string
	branchID string
}

// Registry is the concurrent map keyed by (tenant_id, branch_id) that is
// the single source of truth for which branches are currently connected.
// No other component maintains connection state.
type Registry struct {
	mu       sync.RWMutex
	handles  map[key]*SessionHandle
	byTenant map[string]map[string]struct{} // tenant -> set of connected branch_ids
}

func NewRegistry() *Registry {
	return &Registry{
		handles:  make(map[key]*SessionHandle),
		byTenant: make(map[string]map[string]struct{}),
	}
}

// Insert adds or replaces the handle for (tenant, branch). If an entry
// already exists it is displaced first (its Displace func is invoked) and
// the new handle replaces it atomically under the same lock acquisition,
// unless maxBranchConnections forbids reusing the branch outright.
// maxBranches caps the number of distinct branch_ids connected at once for
// the tenant; it is only checked when the branch is not already present.
// maxBranchConnections gates reconnecting a branch that already holds a
// session: 0 rejects with ErrBranchConnectionLimit, anything else (the
// default of 1) allows the reconnect to displace the existing session.
func (r *Registry) Insert(tenantID, branchID string, h *SessionHandle, maxBranches, maxBranchConnections int) error {
	k := key{tenantID, branchID}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.handles[k]

	if !exists {
		branches := r.byTenant[tenantID]
		if maxBranches > 0 && len(branches) >= maxBranches {
			return ErrTenantBranchLimit
		}
	} else if maxBranchConnections == 0 {
		return ErrBranchConnectionLimit
	}

	if exists && old.Displace != nil {
		old.Displace(h)
	}

	r.handles[k] = h
	if r.byTenant[tenantID] == nil {
		r.byTenant[tenantID] = make(map[string]struct{})
	}
	r.byTenant[tenantID][branchID] = struct{}{}
	return nil
}

// Lookup returns the current handle for (tenant, branch), or nil if the
// branch has no live session.
func (r *Registry) Lookup(tenantID, branchID string) *SessionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[key{tenantID, branchID}]
}

// Remove deletes the entry for (tenant, branch) only if it still points at
// sessionID, preventing a stale removal from racing a newer session that
// has already displaced it. It reports whether an entry was actually
// removed, so a caller can tell a genuine disconnect from a lost race
// against displacement.
func (r *Registry) Remove(tenantID, branchID, sessionID string) bool {
	k := key{tenantID, branchID}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.handles[k]
	if !ok || current.SessionID != sessionID {
		return false
	}
	delete(r.handles, k)
	if branches := r.byTenant[tenantID]; branches != nil {
		delete(branches, branchID)
		if len(branches) == 0 {
			delete(r.byTenant, tenantID)
		}
	}
	return true
}

// IterTenant returns a snapshot of the handles currently registered for a
// tenant, safe to range over without holding the Registry's lock.
func (r *Registry) IterTenant(tenantID string) []*SessionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	branches := r.byTenant[tenantID]
	out := make([]*SessionHandle, 0, len(branches))
	for branchID := range branches {
		if h := r.handles[key{tenantID, branchID}]; h != nil {
			out = append(out, h)
		}
	}
	return out
}
