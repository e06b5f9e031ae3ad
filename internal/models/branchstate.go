package models

import (
	"time"

	"github.com/xelth-com/cdchub/internal/vclock"
)

// ChangeLogRow mirrors a row of the branch-local change_log table. That
// table is populated by triggers external to this process; the CDC Reader
// only ever selects from it, never migrates or writes to it.
type ChangeLogRow struct {
	ChangeID  uint64    `gorm:"column:id;primaryKey"`
	Table     string    `gorm:"column:table_name"`
	Op        string    `gorm:"column:op"`
	PK        string    `gorm:"column:pk"`
	RowData   JSONB     `gorm:"column:row_data;type:jsonb"`
	Status    string    `gorm:"column:status"` // pending, in_flight, synced
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (ChangeLogRow) TableName() string { return "change_log" }

// SyncState is the single-row record of this branch's own vector clock,
// whose own component is advanced once per batch of locally originated
// changes before that batch is sent to the hub.
type SyncState struct {
	BranchID string       `gorm:"column:branch_id;primaryKey"`
	Clock    vclock.Clock `gorm:"column:clock;type:jsonb"`
}

func (SyncState) TableName() string { return "sync_state" }

// AppliedWatermark is the per-origin monotone high-water mark used to
// dedup incoming changes: a change_id at or below the stored value for its
// origin branch has already been applied.
type AppliedWatermark struct {
	OriginBranchID string `gorm:"column:origin_branch_id;primaryKey"`
	LastChangeID   uint64 `gorm:"column:last_change_id"`
}

func (AppliedWatermark) TableName() string { return "applied_watermarks" }

// RowVClock is the stored vector clock for one (table, primary_key), used
// by the conflict resolver to classify an incoming change against the
// clock already reflected in the local row. LastSource/LastAppliedAt echo
// the winning change's origin and timestamp so a later concurrent write can
// be run through LastWriteWins or SourcePriority without re-reading the row.
type RowVClock struct {
	Table         string       `gorm:"column:table_name;primaryKey"`
	PrimaryKey    string       `gorm:"column:primary_key;primaryKey"`
	Clock         vclock.Clock `gorm:"column:clock;type:jsonb"`
	LastSource    string       `gorm:"column:last_source"`
	LastAppliedAt time.Time    `gorm:"column:last_applied_at"`
}

func (RowVClock) TableName() string { return "row_vclocks" }
