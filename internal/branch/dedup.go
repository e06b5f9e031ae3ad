package branch

import "gorm.io/gorm"

// Deduplicator tracks, per origin branch, the highest change_id already
// applied locally. Unlike a flat seen-id cache this never grows: a single
// uint64 per origin is enough because origins assign change_id
// monotonically and the apply pipeline processes a batch's changes in
// order.
type Deduplicator struct {
	store *Store
}

func NewDeduplicator(store *Store) *Deduplicator {
	return &Deduplicator{store: store}
}

// Seen reports whether changeID from origin has already been applied. tx
// must be the same transaction the caller will use to apply the change, so
// the watermark read is consistent with whatever row mutation follows it.
func (d *Deduplicator) Seen(tx *gorm.DB, origin string, changeID uint64) (bool, error) {
	mark, err := d.store.Watermark(tx, origin)
	if err != nil {
		return false, err
	}
	return changeID <= mark, nil
}

// Advance raises origin's high-water mark to changeID within tx, so the
// mark commits or rolls back atomically with whatever row mutation the
// change produced. Safe to call with a changeID lower than the current
// mark; the store only ever ratchets up.
func (d *Deduplicator) Advance(tx *gorm.DB, origin string, changeID uint64) error {
	return d.store.AdvanceWatermark(tx, origin, changeID)
}
