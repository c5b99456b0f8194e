package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tokyo-tower/domain-sub000/internal/clock"
	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

// AvailabilityCache holds the aggregated seat counts the read side
// serves. Entries carry a TTL; a stale entry reads as absent, which
// tells callers the count is being rebuilt rather than zero.
type AvailabilityCache struct {
	db
	clock clock.Clock
}

func NewAvailabilityCache(pool *pgxpool.Pool, clk clock.Clock) *AvailabilityCache {
	return &AvailabilityCache{db: db{pool: pool}, clock: clk}
}

func (c *AvailabilityCache) Put(ctx context.Context, performanceID string, availableSeats int, ttl time.Duration) error {
	_, err := c.exec(ctx, `
		INSERT INTO performance_availability (performance_id, available_seats, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (performance_id) DO UPDATE
		SET available_seats = EXCLUDED.available_seats, expires_at = EXCLUDED.expires_at`,
		performanceID, availableSeats, c.clock.Now().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("upsert availability: %w", err)
	}
	return nil
}

func (c *AvailabilityCache) Get(ctx context.Context, performanceID string) (int, error) {
	var seats int
	err := c.queryRow(ctx, `
		SELECT available_seats FROM performance_availability
		WHERE performance_id = $1 AND expires_at > $2`,
		performanceID, c.clock.Now(),
	).Scan(&seats)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select availability: %w", err)
	}
	return seats, nil
}
