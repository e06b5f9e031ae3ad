// Package branch implements the site-side half of synchronization: reading
// locally captured changes and shipping them to the hub, and applying
// batches the hub relays back from other branches.
package branch

import (
	"fmt"

	"github.com/xelth-com/cdchub/internal/models"
	"github.com/xelth-com/cdchub/internal/vclock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store wraps the branch's local database. It never migrates change_log —
// that table belongs to whatever external trigger machinery populates it —
// but owns its own bookkeeping tables outright.
type Store struct {
	db       *gorm.DB
	branchID string
}

func OpenStore(databaseURL, branchID string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("branch: open local database: %w", err)
	}
	if err := db.AutoMigrate(&models.SyncState{}, &models.AppliedWatermark{}, &models.RowVClock{}); err != nil {
		return nil, fmt.Errorf("branch: migrate bookkeeping tables: %w", err)
	}
	return &Store{db: db, branchID: branchID}, nil
}

// OwnClock loads this branch's own vector clock, creating an empty one on
// first run.
func (s *Store) OwnClock() (vclock.Clock, error) {
	var state models.SyncState
	err := s.db.First(&state, "branch_id = ?", s.branchID).Error
	if err == gorm.ErrRecordNotFound {
		return vclock.New(), nil
	}
	if err != nil {
		return nil, err
	}
	if state.Clock == nil {
		return vclock.New(), nil
	}
	return state.Clock, nil
}

// SaveOwnClock persists the advanced clock after a batch is sent.
func (s *Store) SaveOwnClock(c vclock.Clock) error {
	return s.db.Save(&models.SyncState{BranchID: s.branchID, Clock: c}).Error
}

// PendingChanges selects up to limit unsynced rows for the tracked tables,
// oldest change_id first.
func (s *Store) PendingChanges(trackedTables []string, limit int) ([]models.ChangeLogRow, error) {
	var rows []models.ChangeLogRow
	q := s.db.Where("status = ?", "pending").Order("id ASC").Limit(limit)
	if len(trackedTables) > 0 {
		q = q.Where("table_name IN ?", trackedTables)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkInFlight flags rows as sent-but-unacked so a crash before ack does
// not silently resurrect them as brand new pending rows on restart.
func (s *Store) MarkInFlight(changeIDs []uint64) error {
	if len(changeIDs) == 0 {
		return nil
	}
	return s.db.Model(&models.ChangeLogRow{}).Where("id IN ?", changeIDs).Update("status", "in_flight").Error
}

// MarkSynced flags rows as durably applied at the hub.
func (s *Store) MarkSynced(changeIDs []uint64) error {
	if len(changeIDs) == 0 {
		return nil
	}
	return s.db.Model(&models.ChangeLogRow{}).Where("id IN ?", changeIDs).Update("status", "synced").Error
}

// MarkPending reverts in_flight rows back to pending, used when a batch is
// nacked so the next poll picks its rows up again. A batch whose ack never
// arrives is resent by the CDC Reader's retry loop instead.
func (s *Store) MarkPending(changeIDs []uint64) error {
	if len(changeIDs) == 0 {
		return nil
	}
	return s.db.Model(&models.ChangeLogRow{}).Where("id IN ?", changeIDs).Update("status", "pending").Error
}

// Watermark returns the last change_id applied from origin, or 0 if none.
// tx should be the transaction the caller is about to apply a change under,
// so the read and the eventual AdvanceWatermark commit together.
func (s *Store) Watermark(tx *gorm.DB, origin string) (uint64, error) {
	var w models.AppliedWatermark
	err := tx.First(&w, "origin_branch_id = ?", origin).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return w.LastChangeID, nil
}

// AdvanceWatermark raises the stored high-water mark for origin to changeID
// if changeID is higher than what is currently stored. Must run inside the
// same tx as the row mutation it dedups against: committing the watermark
// outside that transaction would let a rolled-back change's id be marked
// seen forever, so a whole-batch retry would then skip re-applying it.
func (s *Store) AdvanceWatermark(tx *gorm.DB, origin string, changeID uint64) error {
	return tx.Exec(
		`INSERT INTO applied_watermarks (origin_branch_id, last_change_id) VALUES (?, ?)
		 ON CONFLICT (origin_branch_id) DO UPDATE SET last_change_id = GREATEST(applied_watermarks.last_change_id, EXCLUDED.last_change_id)`,
		origin, changeID,
	).Error
}

// RowState loads the stored vector clock and last-applied metadata for
// (table, pk), or a zero value if the row has never been touched here. tx
// should be the transaction the caller will use to apply the change so the
// read reflects any earlier change in the same batch and commits atomically
// with the SaveRowState that follows it.
func (s *Store) RowState(tx *gorm.DB, table, pk string) (models.RowVClock, error) {
	var rv models.RowVClock
	err := tx.First(&rv, "table_name = ? AND primary_key = ?", table, pk).Error
	if err == gorm.ErrRecordNotFound {
		return models.RowVClock{Table: table, PrimaryKey: pk, Clock: vclock.New()}, nil
	}
	if err != nil {
		return models.RowVClock{}, err
	}
	if rv.Clock == nil {
		rv.Clock = vclock.New()
	}
	return rv, nil
}

// SaveRowState persists the merged vector clock and winning change's
// provenance for (table, pk), inside the same tx as the row mutation and
// watermark advance it accompanies.
func (s *Store) SaveRowState(tx *gorm.DB, rv models.RowVClock) error {
	return tx.Save(&rv).Error
}

// DB exposes the underlying handle for the apply pipeline's transactions.
func (s *Store) DB() *gorm.DB { return s.db }
