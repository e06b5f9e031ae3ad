package models

import "time"

// TenantStatus gates whether a tenant's branches may hold sessions at all.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
)

// Tenant is the isolation boundary: a customer owning a set of branches.
type Tenant struct {
	TenantID    string       `gorm:"primaryKey;column:tenant_id" json:"tenant_id"`
	Status      TenantStatus `gorm:"default:active" json:"status"`
	MaxBranches int          `gorm:"default:10" json:"max_branches"`
	// MaxBranchConnections gates whether a branch already holding a live
	// session may reconnect and displace it. 1 (the default) permits the
	// normal displace-on-reconnect flow; 0 rejects the new connection with
	// BranchConnectionLimit instead, useful for a tenant that wants a
	// flapping or duplicated agent to fail loudly rather than churn.
	MaxBranchConnections int       `gorm:"default:1" json:"max_branch_connections"`
	RateLimitPerSec      int       `gorm:"default:50" json:"rate_limit_per_sec"`
	ConflictDefault      string    `gorm:"default:last_write_wins" json:"conflict_default"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

func (t Tenant) IsActive() bool { return t.Status == TenantActive }
