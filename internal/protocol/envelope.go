// Package protocol defines the message envelope carried over a Session and
// its wire encoding: a length-prefixed, versioned binary frame wrapping a
// JSON body. The JSON body is also accepted bare (no length prefix) for
// diagnostic tooling speaking the text websocket frame directly.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/cdchub/internal/models"
	"github.com/xelth-com/cdchub/internal/vclock"
)

// Kind enumerates the envelope payload variants understood at the current
// protocol version.
type Kind string

const (
	KindSyncBatch             Kind = "SyncBatch"
	KindSyncAck               Kind = "SyncAck"
	KindSyncNack              Kind = "SyncNack"
	KindConflictNotification  Kind = "ConflictNotification"
	KindHeartbeat             Kind = "Heartbeat"
	KindControl               Kind = "Control"
)

// Version is the current protocol version byte. Bumped whenever the wire
// shape of Envelope changes in a backwards-incompatible way.
const Version byte = 1

// MaxFrameSize is the hard cap on a single frame's length-prefixed body.
// Frames larger than this are rejected with ErrFrameTooLarge and the
// session is terminated.
const MaxFrameSize = 1 << 20 // 1 MiB

// Envelope is the message wrapper exchanged over every Session. Fields
// tenant_id and from are only trusted when stamped by the Router from the
// authenticated session identity; a peer-supplied value is never trusted.
type Envelope struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	From      string       `json:"from"`
	To        string       `json:"to,omitempty"`
	Kind      Kind         `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64        `json:"created_at"` // unix nanoseconds
	VClock    vclock.Clock `json:"vclock"`
}

// NewEnvelope stamps a fresh id and timestamp; tenant_id/from are filled in
// by the caller (branch-side sender or the Router on ingress).
func NewEnvelope(kind Kind, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   body,
		CreatedAt: time.Now().UTC().UnixNano(),
	}, nil
}

// IsBroadcast reports whether the envelope targets the whole tenant rather
// than a specific branch.
func (e Envelope) IsBroadcast() bool { return e.To == "" }

// Change payload helpers

type SyncBatchPayload struct {
	BatchID string          `json:"batch_id"`
	Changes []models.Change `json:"changes"`
	VClock  vclock.Clock    `json:"vclock"`
}

type SyncAckPayload struct {
	BatchID     string   `json:"batch_id"`
	AppliedIDs  []string `json:"applied_ids"`
	ConflictIDs []string `json:"conflict_ids"`
}

type SyncNackPayload struct {
	BatchID string `json:"batch_id"`
	Reason  string `json:"reason"`
}

type ConflictNotificationPayload struct {
	Table    string        `json:"table"`
	PK       string        `json:"pk"`
	ChangeA  models.Change `json:"change_a"`
	ChangeB  models.Change `json:"change_b"`
	Strategy string        `json:"strategy"`
	Winner   string        `json:"winner"`
}

type HeartbeatPayload struct {
	SentAt int64 `json:"sent_at"`
}

// ControlCode enumerates out-of-band notices the hub pushes to a branch.
type ControlCode string

const (
	ControlDisplaced      ControlCode = "Displaced"
	ControlRateLimited    ControlCode = "RateLimited"
	ControlServerShutdown ControlCode = "ServerShutdown"
	ControlAuthExpired    ControlCode = "AuthExpired"
)

type ControlPayload struct {
	Code ControlCode `json:"code"`
}
