package branch

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xelth-com/cdchub/internal/conflict"
	"github.com/xelth-com/cdchub/internal/models"
	"github.com/xelth-com/cdchub/internal/protocol"
	"github.com/xelth-com/cdchub/internal/vclock"
	"gorm.io/gorm"
)

// ApplyPipeline applies SyncBatch envelopes relayed by the hub to the
// branch's own tracked tables, arbitrating any concurrent write against the
// vector clock already recorded for that row.
type ApplyPipeline struct {
	branchID string
	store    *Store
	dedup    *Deduplicator
	resolver *conflict.Resolver
	notify   FrameSender
	tenantID string
}

func NewApplyPipeline(tenantID, branchID string, store *Store, dedup *Deduplicator, resolver *conflict.Resolver, notify FrameSender) *ApplyPipeline {
	return &ApplyPipeline{tenantID: tenantID, branchID: branchID, store: store, dedup: dedup, resolver: resolver, notify: notify}
}

// HandleBatch runs the apply steps for one inbound SyncBatch and sends the
// resulting SyncAck/SyncNack back over notify.
func (p *ApplyPipeline) HandleBatch(env protocol.Envelope) {
	var payload protocol.SyncBatchPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("⚠️  branch: malformed SyncBatch payload: %v", err)
		return
	}

	var applied, conflicted []string
	err := p.store.DB().Transaction(func(tx *gorm.DB) error {
		for _, change := range payload.Changes {
			outcome, err := p.applyOne(tx, change)
			if err != nil {
				return err
			}
			switch outcome {
			case outcomeApplied:
				applied = append(applied, fmt.Sprint(change.ChangeID))
			case outcomeConflictParked:
				conflicted = append(conflicted, fmt.Sprint(change.ChangeID))
			}
		}
		return nil
	})

	if err != nil {
		log.Printf("⚠️  branch: batch %s apply failed: %v", payload.BatchID, err)
		p.sendNack(payload.BatchID, err.Error())
		return
	}
	p.sendAck(payload.BatchID, applied, conflicted)
}

type applyOutcome int

const (
	outcomeSkippedDuplicate applyOutcome = iota
	outcomeSkippedStale
	outcomeApplied
	outcomeConflictParked
)

func (p *ApplyPipeline) applyOne(tx *gorm.DB, change models.Change) (applyOutcome, error) {
	seen, err := p.dedup.Seen(tx, change.Source, change.ChangeID)
	if err != nil {
		return 0, err
	}
	if seen {
		return outcomeSkippedDuplicate, nil
	}

	row, err := p.store.RowState(tx, change.Table, change.PrimaryKey)
	if err != nil {
		return 0, err
	}
	local := models.Change{
		Table:      change.Table,
		PrimaryKey: change.PrimaryKey,
		VClock:     row.Clock,
		Source:     row.LastSource,
		CreatedAt:  row.LastAppliedAt,
	}

	switch conflict.Classify(local, change) {
	case vclock.After:
		return outcomeSkippedStale, nil
	case vclock.Equal:
		return outcomeSkippedStale, nil
	case vclock.Before:
		if err := p.applyChange(tx, change); err != nil {
			return 0, err
		}
		if err := p.commitRowState(tx, change, row.Clock); err != nil {
			return 0, err
		}
		return outcomeApplied, nil
	default: // Concurrent
		resolution := p.resolver.Resolve(local, change)
		if resolution.NeedsAdmin {
			p.notifyConflict(change.Table, change.PrimaryKey, local, change, resolution)
			return outcomeConflictParked, nil
		}
		if resolution.Winner.Source == change.Source && resolution.Winner.ChangeID == change.ChangeID {
			if err := p.applyChange(tx, change); err != nil {
				return 0, err
			}
			if err := p.commitRowState(tx, change, row.Clock); err != nil {
				return 0, err
			}
			p.notifyConflict(change.Table, change.PrimaryKey, local, change, resolution)
			return outcomeApplied, nil
		}
		p.notifyConflict(change.Table, change.PrimaryKey, local, change, resolution)
		return outcomeConflictParked, nil
	}
}

func (p *ApplyPipeline) commitRowState(tx *gorm.DB, change models.Change, priorClock vclock.Clock) error {
	merged := vclock.Merge(priorClock, change.VClock)
	if err := p.dedup.Advance(tx, change.Source, change.ChangeID); err != nil {
		return err
	}
	return p.store.SaveRowState(tx, models.RowVClock{
		Table:         change.Table,
		PrimaryKey:    change.PrimaryKey,
		Clock:         merged,
		LastSource:    change.Source,
		LastAppliedAt: time.Now().UTC(),
	})
}

// applyChange performs the row-level effect. Tracked tables are expected to
// key on an "id" column matching PrimaryKey, the convention the change_log
// trigger machinery already assumes when it captures pk.
func (p *ApplyPipeline) applyChange(tx *gorm.DB, change models.Change) error {
	switch change.Op {
	case models.OpDelete:
		return tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, quoteIdent(change.Table)), change.PrimaryKey).Error
	case models.OpInsert, models.OpUpdate:
		if len(change.Row) == 0 {
			return fmt.Errorf("branch: change %d on %s has no row payload", change.ChangeID, change.Table)
		}
		columns := make([]string, 0, len(change.Row))
		placeholders := make([]string, 0, len(change.Row))
		updates := make([]string, 0, len(change.Row))
		values := make([]interface{}, 0, len(change.Row))
		for col, val := range change.Row {
			columns = append(columns, quoteIdent(col))
			placeholders = append(placeholders, "?")
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(col), quoteIdent(col)))
			values = append(values, val)
		}
		stmt := fmt.Sprintf(
			`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s`,
			quoteIdent(change.Table), strings.Join(columns, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "),
		)
		return tx.Exec(stmt, values...).Error
	default:
		return fmt.Errorf("branch: unknown change op %q", change.Op)
	}
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (p *ApplyPipeline) notifyConflict(table, pk string, a, b models.Change, res conflict.Resolution) {
	winner := res.Winner.Source
	payload := protocol.ConflictNotificationPayload{
		Table:    table,
		PK:       pk,
		ChangeA:  a,
		ChangeB:  b,
		Strategy: string(res.Strategy),
		Winner:   winner,
	}
	env, err := protocol.NewEnvelope(protocol.KindConflictNotification, payload)
	if err != nil {
		log.Printf("⚠️  branch: encode conflict notification failed: %v", err)
		return
	}
	env.TenantID = p.tenantID
	env.From = p.branchID
	frame, err := protocol.Encode(env)
	if err != nil {
		log.Printf("⚠️  branch: encode conflict frame failed: %v", err)
		return
	}
	if err := p.notify.Send(frame); err != nil {
		log.Printf("⚠️  branch: send conflict notification failed: %v", err)
	}
}

func (p *ApplyPipeline) sendAck(batchID string, applied, conflicted []string) {
	env, err := protocol.NewEnvelope(protocol.KindSyncAck, protocol.SyncAckPayload{
		BatchID:     batchID,
		AppliedIDs:  applied,
		ConflictIDs: conflicted,
	})
	if err != nil {
		return
	}
	env.TenantID = p.tenantID
	env.From = p.branchID
	if frame, err := protocol.Encode(env); err == nil {
		_ = p.notify.Send(frame)
	}
}

func (p *ApplyPipeline) sendNack(batchID, reason string) {
	env, err := protocol.NewEnvelope(protocol.KindSyncNack, protocol.SyncNackPayload{
		BatchID: batchID,
		Reason:  reason,
	})
	if err != nil {
		return
	}
	env.TenantID = p.tenantID
	env.From = p.branchID
	if frame, err := protocol.Encode(env); err == nil {
		_ = p.notify.Send(frame)
	}
}
