// Package conflict implements the resolution strategies applied when two
// branches make concurrent changes to the same (table, primary_key).
package conflict

import (
	"fmt"
	"time"

	"github.com/xelth-com/cdchub/internal/models"
	"github.com/xelth-com/cdchub/internal/vclock"
)

// Strategy names the tenant-configurable resolution policy.
type Strategy string

const (
	LastWriteWins  Strategy = "last_write_wins"
	SourcePriority Strategy = "source_priority"
	Manual         Strategy = "manual"
)

// Resolution records which side won and why, for the audit trail.
type Resolution struct {
	Strategy   Strategy
	Winner     models.Change
	Loser      models.Change
	Reason     string
	NeedsAdmin bool // true for Manual: the record is parked, not applied
}

// Resolver applies a tenant's configured strategy to a pair of concurrent
// changes. Priority ranks branch_id -> higher wins under SourcePriority.
type Resolver struct {
	strategy Strategy
	priority map[string]int
}

func New(strategy Strategy, priority map[string]int) *Resolver {
	if strategy == "" {
		strategy = LastWriteWins
	}
	return &Resolver{strategy: strategy, priority: priority}
}

// Classify compares two changes to the same key and returns how the
// incoming change relates to the one already applied locally.
func Classify(local, incoming models.Change) vclock.Relation {
	return vclock.Compare(local.VClock, incoming.VClock)
}

// Resolve picks a winner between two concurrent changes to the same key.
// Only called when Classify returns vclock.Concurrent.
func (r *Resolver) Resolve(local, incoming models.Change) Resolution {
	switch r.strategy {
	case SourcePriority:
		return r.resolveByPriority(local, incoming)
	case Manual:
		return Resolution{
			Strategy:   Manual,
			Reason:     "concurrent changes parked for admin resolution",
			NeedsAdmin: true,
		}
	default:
		return r.resolveByTimestamp(local, incoming)
	}
}

func (r *Resolver) resolveByTimestamp(local, incoming models.Change) Resolution {
	winner, loser := incoming, local
	reason := fmt.Sprintf("incoming created_at %s >= local %s", incoming.CreatedAt, local.CreatedAt)
	if local.CreatedAt.After(incoming.CreatedAt) {
		winner, loser = local, incoming
		reason = fmt.Sprintf("local created_at %s > incoming %s", local.CreatedAt, incoming.CreatedAt)
	} else if local.CreatedAt.Equal(incoming.CreatedAt) {
		// tie broken by lexicographic branch_id
		if local.Source < incoming.Source {
			winner, loser = local, incoming
		}
		reason = "created_at tie, broken by lexicographic branch_id"
	}
	return Resolution{Strategy: LastWriteWins, Winner: winner, Loser: loser, Reason: reason}
}

func (r *Resolver) resolveByPriority(local, incoming models.Change) Resolution {
	lp, ip := r.priority[local.Source], r.priority[incoming.Source]
	if lp == ip {
		return r.resolveByTimestamp(local, incoming)
	}
	winner, loser := incoming, local
	if lp > ip {
		winner, loser = local, incoming
	}
	return Resolution{
		Strategy: SourcePriority,
		Winner:   winner,
		Loser:    loser,
		Reason:   fmt.Sprintf("branch priority %s=%d vs %s=%d", winner.Source, r.priority[winner.Source], loser.Source, r.priority[loser.Source]),
	}
}

// ResolvedAt stamps when a resolution decision was made, for the persisted
// conflict_resolutions record.
func ResolvedAt() time.Time { return time.Now().UTC() }
