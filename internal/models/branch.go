package models

import "time"

// BranchStatus tracks the last known connectivity state; it is informational
// only, the Connection Registry is the source of truth for live sessions.
type BranchStatus string

const (
	BranchOnline  BranchStatus = "online"
	BranchOffline BranchStatus = "offline"
)

// Branch is a site running a client service with a local relational
// database. Identity is the composite (TenantID, BranchID).
type Branch struct {
	TenantID    string       `gorm:"primaryKey;column:tenant_id" json:"tenant_id"`
	BranchID    string       `gorm:"primaryKey;column:id" json:"branch_id"`
	DisplayName string       `json:"display_name"`
	APIKeyHash  string       `json:"-"`
	Status      BranchStatus `gorm:"default:offline" json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (Branch) TableName() string { return "branches" }
