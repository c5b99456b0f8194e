package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tokyo-tower/domain-sub000/internal/clock"
)

// RateLimitStore backs the admission rate limiter with a holders table.
// Acquisition is one INSERT with a conditional upsert: the row is taken
// over only when it is expired or already ours, so exactly one
// transaction holds a key at a time without advisory locks.
type RateLimitStore struct {
	db
	clock clock.Clock
}

func NewRateLimitStore(pool *pgxpool.Pool, clk clock.Clock) *RateLimitStore {
	return &RateLimitStore{db: db{pool: pool}, clock: clk}
}

func (s *RateLimitStore) SetIfFree(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	var got string
	err := s.queryRow(ctx, `
		INSERT INTO rate_limit_holders (key, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE rate_limit_holders.holder = EXCLUDED.holder
			OR rate_limit_holders.expires_at <= $4
		RETURNING holder`,
		key, holder, now.Add(ttl), now,
	).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict row is live and held by someone else.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire rate limit key: %w", err)
	}
	return true, nil
}

func (s *RateLimitStore) Get(ctx context.Context, key string) (string, error) {
	var holder string
	err := s.queryRow(ctx, `
		SELECT holder FROM rate_limit_holders
		WHERE key = $1 AND expires_at > $2`,
		key, s.clock.Now(),
	).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select rate limit key: %w", err)
	}
	return holder, nil
}

func (s *RateLimitStore) DeleteIfHeldBy(ctx context.Context, key, holder string) error {
	_, err := s.exec(ctx, `
		DELETE FROM rate_limit_holders
		WHERE key = $1 AND holder = $2`,
		key, holder,
	)
	if err != nil {
		return fmt.Errorf("release rate limit key: %w", err)
	}
	return nil
}
