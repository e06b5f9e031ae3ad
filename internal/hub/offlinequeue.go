package hub

import (
	"time"

	"github.com/xelth-com/cdchub/internal/models"
	"gorm.io/gorm"
)

// OfflineQueue is the durable per-(tenant,branch) FIFO backing store for
// envelopes that could not be delivered to a live session.
type OfflineQueue struct {
	db *gorm.DB
}

func NewOfflineQueue(db *gorm.DB) *OfflineQueue {
	return &OfflineQueue{db: db}
}

// Enqueue persists an envelope for later delivery to a specific branch.
func (q *OfflineQueue) Enqueue(tenantID, branchID string, envelopeBytes []byte, priority int, ttl time.Duration) error {
	return q.db.Create(&models.OfflineMessage{
		TenantID:       tenantID,
		TargetBranchID: branchID,
		EnvelopeBytes:  envelopeBytes,
		Priority:       priority,
		TTLDeadline:    time.Now().UTC().Add(ttl),
		EnqueuedAt:     time.Now().UTC(),
	}).Error
}

// Drain returns up to max queued envelopes for (tenant, branch), ordered
// priority DESC then enqueued_at ASC, and removes them from the queue. The
// caller is responsible for redelivering them through the Router so
// ordering and rate-limit invariants are enforced uniformly.
func (q *OfflineQueue) Drain(tenantID, branchID string, max int) ([][]byte, error) {
	var rows []models.OfflineMessage
	err := q.db.
		Where("tenant_id = ? AND target_branch_id = ?", tenantID, branchID).
		Order("priority DESC, enqueued_at ASC").
		Limit(max).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(rows))
	out := make([][]byte, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		out = append(out, r.EnvelopeBytes)
	}
	if len(ids) > 0 {
		if err := q.db.Delete(&models.OfflineMessage{}, ids).Error; err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Expire sweeps entries whose ttl_deadline has strictly passed. Intended to
// run on a periodic ticker.
func (q *OfflineQueue) Expire(now time.Time) (int64, error) {
	res := q.db.Where("ttl_deadline < ?", now).Delete(&models.OfflineMessage{})
	return res.RowsAffected, res.Error
}
