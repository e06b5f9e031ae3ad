package models

import "time"

// OfflineMessage is a durable per-(tenant,branch) queue entry holding an
// envelope that could not be delivered because the target session was not
// connected. Drained priority DESC, enqueued_at ASC by the Router.
type OfflineMessage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TenantID       string    `gorm:"type:varchar(255);not null;index:idx_offline_target" json:"tenant_id"`
	TargetBranchID string    `gorm:"type:varchar(255);not null;index:idx_offline_target" json:"target_branch_id"`
	EnvelopeBytes  []byte    `gorm:"type:bytea;not null" json:"-"`
	Priority       int       `gorm:"default:5;index:idx_offline_drain" json:"priority"`
	TTLDeadline    time.Time `gorm:"index:idx_offline_ttl" json:"ttl_deadline"`
	EnqueuedAt     time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_offline_drain" json:"enqueued_at"`
}

func (OfflineMessage) TableName() string { return "offline_messages" }

// ConflictResolution is the audit record written whenever the Conflict
// Resolver arbitrates two concurrent changes to the same (table, pk).
type ConflictResolution struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TenantID       string    `gorm:"type:varchar(255);not null;index:idx_conflict_tenant" json:"tenant_id"`
	Table          string    `gorm:"column:table_name;type:varchar(255);not null" json:"table_name"`
	PrimaryKey     string    `gorm:"type:varchar(255);not null" json:"primary_key"`
	ChangeA        JSONB     `gorm:"type:jsonb" json:"change_a"`
	ChangeB        JSONB     `gorm:"type:jsonb" json:"change_b"`
	Strategy       string    `gorm:"type:varchar(50);not null" json:"strategy"`
	Winner         string    `gorm:"type:varchar(255)" json:"winner"`
	Status         string    `gorm:"type:varchar(50);default:'pending';index:idx_conflict_status" json:"status"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ConflictResolution) TableName() string { return "conflict_resolutions" }

// SyncTransaction is the hub-side record of one SyncBatch's outcome.
type SyncTransaction struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TenantID          string    `gorm:"type:varchar(255);not null;index:idx_tx_tenant" json:"tenant_id"`
	BranchID          string    `gorm:"type:varchar(255);not null;index:idx_tx_tenant" json:"branch_id"`
	BatchID           string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_tx_batch" json:"batch_id"`
	Status            string    `gorm:"type:varchar(50);default:'pending'" json:"status"` // pending, applied, nacked
	RecordsApplied    int       `gorm:"default:0" json:"records_applied"`
	RecordsConflicted int       `gorm:"default:0" json:"records_conflicted"`
	DurationMs        int       `json:"duration_ms"`
	CreatedAt         time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (SyncTransaction) TableName() string { return "sync_transactions" }

// AuditLog holds security and lifecycle events: AuthFailed, TenantInactive,
// CrossTenantAttempt, Displaced, RateLimited, and similar.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"type:varchar(255);index:idx_audit_tenant" json:"tenant_id"`
	BranchID  string    `gorm:"type:varchar(255)" json:"branch_id"`
	Event     string    `gorm:"type:varchar(100);not null;index:idx_audit_event" json:"event"`
	Detail    JSONB     `gorm:"type:jsonb" json:"detail"`
	SourceIP  string    `gorm:"type:varchar(64)" json:"source_ip"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_log" }
