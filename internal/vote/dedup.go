package vote

import (
	"context"
	"fmt"

	"github.com/roniherschmann/go-pollguard/internal/identity"
	"github.com/roniherschmann/go-pollguard/internal/store"
)

const votersSet = "voters"

// DedupLedger is the permanent set of identifiers that have cast a new vote.
// Once recorded, an identifier can never back a second new vote.
type DedupLedger struct {
	store store.Store
}

func NewDedupLedger(s store.Store) *DedupLedger {
	return &DedupLedger{store: s}
}

// Duplicate reports the first identifier of ids already in the ledger.
func (d *DedupLedger) Duplicate(ctx context.Context, ids identity.Set) (string, bool, error) {
	for _, id := range ids.Durable() {
		ok, err := d.store.IsMember(ctx, votersSet, id)
		if err != nil {
			return "", false, fmt.Errorf("dedup lookup: %w", err)
		}
		if ok {
			return id, true, nil
		}
	}
	return "", false, nil
}

// IsDuplicate is Duplicate without the matching identifier.
func (d *DedupLedger) IsDuplicate(ctx context.Context, ids identity.Set) (bool, error) {
	_, dup, err := d.Duplicate(ctx, ids)
	return dup, err
}

// Record queues an idempotent insert of every durable identifier.
func (d *DedupLedger) Record(b *store.Batch, ids identity.Set) {
	b.SAdd(votersSet, ids.Durable()...)
}
