package hub

import (
	"log"

	"github.com/xelth-com/cdchub/internal/models"
	"gorm.io/gorm"
)

// Auditor writes security and lifecycle events to the audit_log table.
// Failures to write are logged but never block the caller — the routing
// plane must keep running even if the metadata store hiccups.
type Auditor struct {
	db *gorm.DB
}

func NewAuditor(db *gorm.DB) *Auditor {
	return &Auditor{db: db}
}

func (a *Auditor) Record(tenantID, branchID, event, sourceIP string, detail map[string]interface{}) {
	entry := models.AuditLog{
		TenantID: tenantID,
		BranchID: branchID,
		Event:    event,
		Detail:   models.JSONB(detail),
		SourceIP: sourceIP,
	}
	if err := a.db.Create(&entry).Error; err != nil {
		log.Printf("⚠️  audit write failed event=%s tenant=%s err=%v", event, tenantID, err)
	}
}
