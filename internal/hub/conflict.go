package hub

import (
	"encoding/json"
	"log"

	"github.com/xelth-com/cdchub/internal/conflict"
	"github.com/xelth-com/cdchub/internal/models"
	"github.com/xelth-com/cdchub/internal/protocol"
	"gorm.io/gorm"
)

// ConflictRecorder persists ConflictNotification envelopes into
// conflict_resolutions for audit once a branch has resolved a concurrent
// write locally and reported the outcome upstream. A conflict parked under
// the Manual strategy is recorded as pending, awaiting admin action.
type ConflictRecorder struct {
	db *gorm.DB
}

func NewConflictRecorder(db *gorm.DB) *ConflictRecorder {
	return &ConflictRecorder{db: db}
}

func (c *ConflictRecorder) Record(m protocol.Envelope) {
	var payload protocol.ConflictNotificationPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		log.Printf("⚠️  conflict: malformed notification payload: %v", err)
		return
	}

	status := "resolved"
	if payload.Strategy == string(conflict.Manual) {
		status = "pending"
	}

	row := models.ConflictResolution{
		TenantID:   m.TenantID,
		Table:      payload.Table,
		PrimaryKey: payload.PK,
		ChangeA:    toJSONB(payload.ChangeA),
		ChangeB:    toJSONB(payload.ChangeB),
		Strategy:   payload.Strategy,
		Winner:     payload.Winner,
		Status:     status,
	}
	if err := c.db.Create(&row).Error; err != nil {
		log.Printf("⚠️  conflict: persist failed: %v", err)
	}
}

func toJSONB(c models.Change) models.JSONB {
	body, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	var out models.JSONB
	if err := json.Unmarshal(body, &out); err != nil {
		return nil
	}
	return out
}
