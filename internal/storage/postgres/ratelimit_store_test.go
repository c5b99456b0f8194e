package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/clock"
	"github.com/tokyo-tower/domain-sub000/internal/testutil"
)

func TestRateLimitStore(t *testing.T) {
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, context.Background(), pool)

	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	t.Run("a live key has a single holder", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		store := NewRateLimitStore(pool, clock.NewFixed(now))

		ok, err := store.SetIfFree(ctx, "wheelchair:20260901T11", "tx-1", time.Hour)
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if !ok {
			t.Fatalf("expected the free key acquired")
		}

		ok, err = store.SetIfFree(ctx, "wheelchair:20260901T11", "tx-2", time.Hour)
		if err != nil {
			t.Fatalf("contend: %v", err)
		}
		if ok {
			t.Fatalf("expected the held key refused")
		}

		holder, err := store.Get(ctx, "wheelchair:20260901T11")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if holder != "tx-1" {
			t.Fatalf("expected tx-1 to keep the key, got %q", holder)
		}
	})

	t.Run("re-acquisition by the holder refreshes the TTL", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		store := NewRateLimitStore(pool, clock.NewFixed(now))

		if ok, err := store.SetIfFree(ctx, "key-1", "tx-1", time.Hour); err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}
		if ok, err := store.SetIfFree(ctx, "key-1", "tx-1", time.Hour); err != nil || !ok {
			t.Fatalf("re-acquire by holder: ok=%v err=%v", ok, err)
		}
	})

	t.Run("an expired key can be taken over", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		manual := clock.NewManual(now)
		store := NewRateLimitStore(pool, manual)

		if ok, err := store.SetIfFree(ctx, "key-1", "tx-1", time.Hour); err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}

		manual.Advance(time.Hour + time.Minute)

		ok, err := store.SetIfFree(ctx, "key-1", "tx-2", time.Hour)
		if err != nil {
			t.Fatalf("take over: %v", err)
		}
		if !ok {
			t.Fatalf("expected the expired key taken over")
		}

		holder, err := store.Get(ctx, "key-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if holder != "tx-2" {
			t.Fatalf("expected tx-2, got %q", holder)
		}
	})

	t.Run("DeleteIfHeldBy releases only the caller's key", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		store := NewRateLimitStore(pool, clock.NewFixed(now))

		if ok, err := store.SetIfFree(ctx, "key-1", "tx-1", time.Hour); err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}

		if err := store.DeleteIfHeldBy(ctx, "key-1", "tx-2"); err != nil {
			t.Fatalf("foreign release: %v", err)
		}
		if holder, _ := store.Get(ctx, "key-1"); holder != "tx-1" {
			t.Fatalf("expected the key kept, got %q", holder)
		}

		if err := store.DeleteIfHeldBy(ctx, "key-1", "tx-1"); err != nil {
			t.Fatalf("release: %v", err)
		}
		if holder, _ := store.Get(ctx, "key-1"); holder != "" {
			t.Fatalf("expected the key released, got %q", holder)
		}
	})
}
