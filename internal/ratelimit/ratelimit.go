// Package ratelimit implements a keyed, TTL-bound, single-holder lock used
// as an admission throttle for scarce seating categories. One key covers a
// whole category/time bucket, not a single seat.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

// Key identifies one admission slot: a ticket category within one
// performance's time bucket.
type Key struct {
	TicketTypeCategory  string
	PerformanceStartsAt time.Time
	// Unit is both the bucket width and the lock TTL.
	Unit time.Duration
}

// String renders the storage key. The start time is truncated to the unit
// so every authorization inside one bucket contends on the same key.
func (k Key) String() string {
	bucket := k.PerformanceStartsAt.UTC().Truncate(k.Unit)
	return fmt.Sprintf("ratelimit:%s:%s:%d", k.TicketTypeCategory, bucket.Format("20060102150405"), int(k.Unit.Seconds()))
}

// Store is the atomic key/value store backing the limiter.
type Store interface {
	// SetIfFree sets key to holder with the given TTL, succeeding only if
	// the key is unset, expired, or already held by the same holder. It
	// reports whether the holder now owns the key.
	SetIfFree(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// Get returns the current live holder, or "" if none.
	Get(ctx context.Context, key string) (string, error)
	// DeleteIfHeldBy removes the key only if its current holder matches.
	DeleteIfHeldBy(ctx context.Context, key, holder string) error
}

type Limiter struct {
	store Store
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store}
}

// Lock acquires the slot for holder. Re-locking by the current holder is
// idempotent; contention with a different holder fails fast.
func (l *Limiter) Lock(ctx context.Context, key Key, holder string) error {
	if holder == "" {
		return fmt.Errorf("holder: %w", domain.ErrArgumentNull)
	}
	ok, err := l.store.SetIfFree(ctx, key.String(), holder, key.Unit)
	if err != nil {
		return fmt.Errorf("rate limit lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("category %s: %w", key.TicketTypeCategory, domain.ErrRateLimitExceeded)
	}
	return nil
}

// Holder reports who currently occupies the slot, "" when free.
func (l *Limiter) Holder(ctx context.Context, key Key) (string, error) {
	return l.store.Get(ctx, key.String())
}

// Unlock releases the slot only when holder still owns it. Releasing a
// free key, or one re-acquired by another transaction after TTL expiry,
// is a silent no-op.
func (l *Limiter) Unlock(ctx context.Context, key Key, holder string) error {
	if err := l.store.DeleteIfHeldBy(ctx, key.String(), holder); err != nil {
		return fmt.Errorf("rate limit unlock: %w", err)
	}
	return nil
}
