package models

import (
	"time"

	"github.com/xelth-com/cdchub/internal/vclock"
)

// ChangeOp is the row-level operation a Change represents.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// Change is a single row-level effect captured by CDC at a branch.
type Change struct {
	Table      string          `json:"table"`
	Op         ChangeOp        `json:"op"`
	PrimaryKey string          `json:"primary_key"`
	Row        map[string]any  `json:"row,omitempty"`
	ChangeID   uint64          `json:"change_id"`
	VClock     vclock.Clock    `json:"vclock"`
	Source     string          `json:"source,omitempty"`
	CreatedAt  time.Time       `json:"created_at,omitempty"`
}

// Key identifies the row a Change affects, the unit conflicts are detected on.
func (c Change) Key() string {
	return c.Table + "/" + c.PrimaryKey
}
