package hub

import (
	"time"

	"github.com/xelth-com/cdchub/internal/models"
	"gorm.io/gorm"
)

// TenantPolicy is the subset of a Tenant's attributes the Router and
// Registry need on every message. It is not cached: Directory.TenantPolicy
// queries the tenant row on each call.
type TenantPolicy struct {
	Active               bool
	MaxBranches          int
	MaxBranchConnections int
	RateLimitPerSec      int
	OfflineTTL           time.Duration
}

// Directory resolves tenant policy and branch existence against the
// metadata store. The Router treats it as authoritative but read-mostly:
// it never mutates tenant/branch rows itself.
type Directory struct {
	db         *gorm.DB
	defaultTTL time.Duration
}

func NewDirectory(db *gorm.DB, defaultTTL time.Duration) *Directory {
	return &Directory{db: db, defaultTTL: defaultTTL}
}

// TenantPolicy loads the tenant row, or reports ok=false if it does not
// exist (treated the same as suspended by callers).
func (d *Directory) TenantPolicy(tenantID string) (TenantPolicy, bool) {
	var t models.Tenant
	if err := d.db.Where("tenant_id = ?", tenantID).First(&t).Error; err != nil {
		return TenantPolicy{}, false
	}
	ttl := d.defaultTTL
	return TenantPolicy{
		Active:               t.IsActive(),
		MaxBranches:          t.MaxBranches,
		MaxBranchConnections: t.MaxBranchConnections,
		RateLimitPerSec:      t.RateLimitPerSec,
		OfflineTTL:           ttl,
	}, true
}

// BranchExists reports whether (tenant, branch) is a known branch,
// distinguishing UnknownTarget from a target that merely happens to be
// offline right now.
func (d *Directory) BranchExists(tenantID, branchID string) bool {
	var count int64
	d.db.Model(&models.Branch{}).
		Where("tenant_id = ? AND id = ?", tenantID, branchID).
		Count(&count)
	return count > 0
}

// TenantBranchIDs lists every known branch_id for a tenant, used for
// broadcast delivery to offline branches (step 3 of the routing
// procedure).
func (d *Directory) TenantBranchIDs(tenantID string) []string {
	var branches []models.Branch
	d.db.Where("tenant_id = ?", tenantID).Find(&branches)
	ids := make([]string, 0, len(branches))
	for _, b := range branches {
		ids = append(ids, b.BranchID)
	}
	return ids
}
