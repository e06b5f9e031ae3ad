package protocol

import (
	"testing"

	"github.com/xelth-com/cdchub/internal/vclock"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(KindHeartbeat, HeartbeatPayload{SentAt: 12345})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	env.TenantID = "tenant-1"
	env.From = "branch-a"
	env.VClock = vclock.Clock{"branch-a": 1}

	frame, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.ID != env.ID || decoded.TenantID != env.TenantID || decoded.From != env.From || decoded.Kind != env.Kind {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, env)
	}
	if decoded.VClock["branch-a"] != 1 {
		t.Errorf("expected vclock to survive round trip, got %v", decoded.VClock)
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	env, _ := NewEnvelope(KindHeartbeat, HeartbeatPayload{})
	frame, _ := Encode(env)
	frame[0] = Version + 1

	if _, err := Decode(frame); err != ErrUnsupportedVersion {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	env, _ := NewEnvelope(KindHeartbeat, HeartbeatPayload{})
	frame, _ := Encode(env)

	if _, err := Decode(frame[:len(frame)-3]); err != ErrDecodeError {
		t.Errorf("expected ErrDecodeError for truncated frame, got %v", err)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	env, _ := NewEnvelope(Kind("NotARealKind"), map[string]string{})
	frame, _ := Encode(env)

	if _, err := Decode(frame); err != ErrUnsupportedKind {
		t.Errorf("expected ErrUnsupportedKind, got %v", err)
	}
}

func TestEncodeJSONDecodeJSONRoundTrip(t *testing.T) {
	env, _ := NewEnvelope(KindControl, ControlPayload{Code: ControlDisplaced})
	env.TenantID = "tenant-1"
	env.From = "branch-a"

	body, err := EncodeJSON(env)
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}

	decoded, err := DecodeJSON(body)
	if err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if decoded.Kind != KindControl || decoded.TenantID != "tenant-1" {
		t.Errorf("unexpected decoded envelope: %+v", decoded)
	}
}

func TestIsBroadcast(t *testing.T) {
	env, _ := NewEnvelope(KindHeartbeat, HeartbeatPayload{})
	if !env.IsBroadcast() {
		t.Error("envelope with no To should be a broadcast")
	}
	env.To = "branch-b"
	if env.IsBroadcast() {
		t.Error("envelope with To set should not be a broadcast")
	}
}
