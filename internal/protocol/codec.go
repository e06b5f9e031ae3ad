package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors matching the error taxonomy in the component design:
// FrameTooLarge and DecodeError close the session; UnsupportedKind fails
// only the one message.
var (
	ErrFrameTooLarge    = errors.New("protocol: frame exceeds max size")
	ErrDecodeError      = errors.New("protocol: malformed frame")
	ErrUnsupportedKind  = errors.New("protocol: unsupported envelope kind")
	ErrUnsupportedVersion = errors.New("protocol: unsupported protocol version")
)

var knownKinds = map[Kind]struct{}{
	KindSyncBatch:            {},
	KindSyncAck:              {},
	KindSyncNack:             {},
	KindConflictNotification: {},
	KindHeartbeat:            {},
	KindControl:              {},
}

// Encode produces the binary frame for an envelope: 1 version byte, 4-byte
// big-endian length prefix, then the JSON body. gorilla/websocket already
// frames at the transport level, so this wrapper is what travels inside a
// single binary websocket frame; the JSON variant (EncodeJSON) is what
// travels inside a text frame for diagnostic clients.
func Encode(e Envelope) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode envelope: %w", err)
	}
	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, 0, 5+len(body))
	out = append(out, Version)
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	return out, nil
}

// EncodeJSON produces the bare JSON body, with no version byte or length
// prefix, for diagnostic/text-frame clients.
func EncodeJSON(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a binary frame produced by Encode. Oversized or malformed
// frames return the sentinel errors above so callers can apply the right
// session-vs-message failure policy.
func Decode(frame []byte) (Envelope, error) {
	if len(frame) < 5 {
		return Envelope{}, ErrDecodeError
	}
	version := frame[0]
	if version != Version {
		return Envelope{}, ErrUnsupportedVersion
	}
	length := binary.BigEndian.Uint32(frame[1:5])
	if length > MaxFrameSize {
		return Envelope{}, ErrFrameTooLarge
	}
	if int(length) != len(frame)-5 {
		return Envelope{}, ErrDecodeError
	}
	return decodeBody(frame[5:])
}

// DecodeJSON parses a bare JSON envelope body (no framing), as sent by
// diagnostic clients over a text websocket frame.
func DecodeJSON(body []byte) (Envelope, error) {
	if len(body) > MaxFrameSize {
		return Envelope{}, ErrFrameTooLarge
	}
	return decodeBody(body)
}

func decodeBody(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecodeError, err)
	}
	if _, ok := knownKinds[e.Kind]; !ok {
		return e, ErrUnsupportedKind
	}
	return e, nil
}
