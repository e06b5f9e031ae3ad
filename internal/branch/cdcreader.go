package branch

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/cdchub/internal/config"
	"github.com/xelth-com/cdchub/internal/models"
	"github.com/xelth-com/cdchub/internal/protocol"
)

const batchSize = 100

// FrameSender is the outbound half of the branch's transport, satisfied by
// the websocket connection wrapper in agent.go.
type FrameSender interface {
	Send(frame []byte) error
}

// CDCReader polls the local change log and ships unsynced rows to the hub
// as SyncBatch envelopes, retrying with exponential backoff until acked.
type CDCReader struct {
	cfg    *config.BranchConfig
	store  *Store
	sender FrameSender
	waiter *ackWaiter
}

func NewCDCReader(cfg *config.BranchConfig, store *Store, sender FrameSender, waiter *ackWaiter) *CDCReader {
	return &CDCReader{cfg: cfg, store: store, sender: sender, waiter: waiter}
}

// Run polls every cfg.SyncInterval until ctx is cancelled.
func (r *CDCReader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.pollOnce(ctx); err != nil {
				log.Printf("⚠️  branch: cdc poll failed: %v", err)
			}
		}
	}
}

func (r *CDCReader) pollOnce(ctx context.Context) error {
	rows, err := r.store.PendingChanges(r.cfg.TrackedTables, batchSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	clock, err := r.store.OwnClock()
	if err != nil {
		return err
	}
	clock = clock.Advance(r.cfg.BranchID)

	changeIDs := make([]uint64, 0, len(rows))
	changes := make([]models.Change, 0, len(rows))
	for _, row := range rows {
		changeIDs = append(changeIDs, row.ChangeID)
		changes = append(changes, models.Change{
			Table:      row.Table,
			Op:         models.ChangeOp(row.Op),
			PrimaryKey: row.PK,
			Row:        row.RowData,
			ChangeID:   row.ChangeID,
			VClock:     clock.Copy(),
			Source:     r.cfg.BranchID,
			CreatedAt:  row.CreatedAt,
		})
	}

	batchID := uuid.NewString()
	env, err := protocol.NewEnvelope(protocol.KindSyncBatch, protocol.SyncBatchPayload{
		BatchID: batchID,
		Changes: changes,
		VClock:  clock,
	})
	if err != nil {
		return err
	}
	env.TenantID = r.cfg.TenantID
	env.From = r.cfg.BranchID
	env.VClock = clock

	if err := r.store.MarkInFlight(changeIDs); err != nil {
		return err
	}

	r.sendWithRetry(ctx, env, batchID, changeIDs)

	return r.store.SaveOwnClock(clock)
}

// sendWithRetry sends env and waits for its SyncAck/SyncNack, retrying with
// backoff (1s, 2s, 4s, ... capped at 60s) for up to MaxRetries attempts.
// After that it keeps retrying once a minute and logs SyncStalled, since
// giving up would leave the batch's rows stuck in_flight forever.
func (r *CDCReader) sendWithRetry(ctx context.Context, env protocol.Envelope, batchID string, changeIDs []uint64) {
	backoff := time.Second
	attempt := 0
	stalled := false

	for {
		frame, err := protocol.Encode(env)
		if err != nil {
			log.Printf("⚠️  branch: encode batch %s failed: %v", batchID, err)
			return
		}

		waitCh := r.waiter.Wait(batchID)
		if err := r.sender.Send(frame); err != nil {
			r.waiter.Forget(batchID)
			log.Printf("⚠️  branch: send batch %s failed: %v", batchID, err)
		} else {
			select {
			case ack := <-waitCh:
				r.handleAckOrNack(ack, changeIDs)
				return
			case <-time.After(r.cfg.AckTimeout):
				r.waiter.Forget(batchID)
			case <-ctx.Done():
				r.waiter.Forget(batchID)
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		attempt++
		if attempt >= r.cfg.MaxRetries {
			if !stalled {
				log.Printf("🛑 branch: batch %s SyncStalled after %d attempts, retrying every 60s", batchID, attempt)
				stalled = true
			}
			backoff = 60 * time.Second
		} else {
			backoff *= 2
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
		}
	}
}

func (r *CDCReader) handleAckOrNack(env protocol.Envelope, changeIDs []uint64) {
	switch env.Kind {
	case protocol.KindSyncAck:
		if err := r.store.MarkSynced(changeIDs); err != nil {
			log.Printf("⚠️  branch: mark synced failed: %v", err)
		}
	case protocol.KindSyncNack:
		if err := r.store.MarkPending(changeIDs); err != nil {
			log.Printf("⚠️  branch: mark pending failed: %v", err)
		}
	}
}
