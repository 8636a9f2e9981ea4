package vote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roniherschmann/go-pollguard/internal/store"
)

const globalKey = "global:votes:minute"

// RateLimiter holds the two throttles: a per-address lock that lasts
// LockTTL, and a global cap of Cap accepted writes per Window.
type RateLimiter struct {
	store   store.Store
	cap     int
	window  time.Duration
	lockTTL time.Duration
}

func NewRateLimiter(s store.Store, limit int, window, lockTTL time.Duration) *RateLimiter {
	return &RateLimiter{store: s, cap: limit, window: window, lockTTL: lockTTL}
}

// AddressLocked reports whether addressID already has a live lock.
func (l *RateLimiter) AddressLocked(ctx context.Context, addressID string) (bool, error) {
	if addressID == "" {
		return false, nil
	}
	_, err := l.store.Get(ctx, addressID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("address lock lookup: %w", err)
	}
	return true, nil
}

// AtCap reports whether the global window is full. It does not consume
// capacity; Consume does that as part of the commit batch.
func (l *RateLimiter) AtCap(ctx context.Context) (bool, error) {
	if l.cap <= 0 {
		return false, nil
	}
	counts, err := l.store.Counters(ctx, []string{globalKey})
	if err != nil {
		return false, fmt.Errorf("global counter lookup: %w", err)
	}
	return counts[0] >= int64(l.cap), nil
}

// Lock queues the per-address lock.
func (l *RateLimiter) Lock(b *store.Batch, addressID string) {
	if addressID == "" {
		return
	}
	b.Set(addressID, "1", l.lockTTL)
}

// Consume queues one unit against the global window and restarts its expiry.
func (l *RateLimiter) Consume(b *store.Batch) {
	b.Incr(globalKey).Expire(globalKey, l.window)
}
