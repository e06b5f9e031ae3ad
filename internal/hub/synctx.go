package hub

import (
	"log"

	"gorm.io/gorm"
)

// TransactionRecorder persists the hub-side lifecycle of every SyncBatch
// that passes through the Router: a pending row created the moment the
// batch is first seen, finalized by whichever SyncAck/SyncNack for that
// batch_id arrives first. A batch broadcast to several branches, or a
// SyncAck redelivered by DrainOffline, can pass through Begin/Complete more
// than once — both are guarded so only the first call of each actually
// writes.
type TransactionRecorder struct {
	db *gorm.DB
}

func NewTransactionRecorder(db *gorm.DB) *TransactionRecorder {
	return &TransactionRecorder{db: db}
}

// Begin records that batchID started moving through the hub. A second
// Begin for the same batch_id (a duplicate broadcast recipient, a drain
// replay) is a no-op.
func (t *TransactionRecorder) Begin(tenantID, branchID, batchID string) {
	err := t.db.Exec(
		`INSERT INTO sync_transactions (tenant_id, branch_id, batch_id, status, created_at)
		 VALUES (?, ?, ?, 'pending', CURRENT_TIMESTAMP)
		 ON CONFLICT (batch_id) DO NOTHING`,
		tenantID, branchID, batchID,
	).Error
	if err != nil {
		log.Printf("⚠️  synctx: begin failed batch=%s err=%v", batchID, err)
	}
}

// Complete finalizes batchID with status ("applied" or "nacked") and the
// reported record counts. Only the row's first transition out of "pending"
// takes effect, so a batch broadcast to several branches records the
// outcome of whichever one answers first rather than clobbering it on
// every subsequent ack.
func (t *TransactionRecorder) Complete(batchID, status string, recordsApplied, recordsConflicted int) {
	err := t.db.Exec(
		`UPDATE sync_transactions
		 SET status = ?, records_applied = ?, records_conflicted = ?,
		     duration_ms = GREATEST(0, EXTRACT(EPOCH FROM (CURRENT_TIMESTAMP - created_at)) * 1000)::int
		 WHERE batch_id = ? AND status = 'pending'`,
		status, recordsApplied, recordsConflicted, batchID,
	).Error
	if err != nil {
		log.Printf("⚠️  synctx: complete failed batch=%s err=%v", batchID, err)
	}
}
