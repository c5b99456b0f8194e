package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CounterRepository counts transaction starts per scope and unit window.
// The upsert returns the post-increment count, so caller-side check and
// increment are one statement.
type CounterRepository struct {
	db
}

func NewCounterRepository(pool *pgxpool.Pool) *CounterRepository {
	return &CounterRepository{db: db{pool: pool}}
}

func (r *CounterRepository) Increment(ctx context.Context, scope string, unitFrom, unitTo time.Time) (int, error) {
	var count int
	err := r.queryRow(ctx, `
		INSERT INTO transaction_counts (scope, unit_from, unit_to, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (scope, unit_from) DO UPDATE
		SET count = transaction_counts.count + 1
		RETURNING count`,
		scope, unitFrom, unitTo,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment transaction count: %w", err)
	}
	return count, nil
}
