package branch

import (
	"sync"

	"github.com/xelth-com/cdchub/internal/protocol"
)

// ackWaiter correlates inbound SyncAck/SyncNack envelopes with the
// outstanding SyncBatch send awaiting them, keyed by batch_id. The agent's
// read loop calls Resolve for every ack/nack it decodes; the CDC Reader
// calls Wait after sending a batch.
type ackWaiter struct {
	mu      sync.Mutex
	pending map[string]chan protocol.Envelope
}

func newAckWaiter() *ackWaiter {
	return &ackWaiter{pending: make(map[string]chan protocol.Envelope)}
}

// Wait registers batchID and returns a channel that receives exactly one
// envelope (the ack or nack) once Resolve delivers it.
func (a *ackWaiter) Wait(batchID string) chan protocol.Envelope {
	ch := make(chan protocol.Envelope, 1)
	a.mu.Lock()
	a.pending[batchID] = ch
	a.mu.Unlock()
	return ch
}

// Forget drops a registration, used when a wait times out so a late ack
// does not block forever trying to deliver to an abandoned channel.
func (a *ackWaiter) Forget(batchID string) {
	a.mu.Lock()
	delete(a.pending, batchID)
	a.mu.Unlock()
}

// Resolve delivers env to whichever Wait call is holding batchID's
// channel, if any. Returns false if nothing was waiting.
func (a *ackWaiter) Resolve(batchID string, env protocol.Envelope) bool {
	a.mu.Lock()
	ch, ok := a.pending[batchID]
	if ok {
		delete(a.pending, batchID)
	}
	a.mu.Unlock()
	if !ok {
		return false
	}
	ch <- env
	return true
}
