package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

// PerformanceRepository persists the performance catalog. The ticket type
// list is small and read as a unit, so it lives in a jsonb column.
type PerformanceRepository struct {
	db
}

func NewPerformanceRepository(pool *pgxpool.Pool) *PerformanceRepository {
	return &PerformanceRepository{db: db{pool: pool}}
}

func (r *PerformanceRepository) Create(ctx context.Context, perf domain.Performance) error {
	ticketTypes, err := json.Marshal(perf.TicketTypes)
	if err != nil {
		return fmt.Errorf("marshal ticket types: %w", err)
	}

	_, err = r.exec(ctx, `
		INSERT INTO performances (id, event_id, day, starts_at, ends_at, ticket_types)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		perf.ID, perf.EventID, perf.Day, perf.StartsAt, perf.EndsAt, ticketTypes,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyInUse
	}
	if err != nil {
		return fmt.Errorf("insert performance: %w", err)
	}
	return nil
}

func (r *PerformanceRepository) Get(ctx context.Context, id string) (domain.Performance, error) {
	var (
		perf        domain.Performance
		ticketTypes []byte
	)
	err := r.queryRow(ctx, `
		SELECT id, event_id, day, starts_at, ends_at, ticket_types
		FROM performances WHERE id = $1`,
		id,
	).Scan(&perf.ID, &perf.EventID, &perf.Day, &perf.StartsAt, &perf.EndsAt, &ticketTypes)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Performance{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Performance{}, fmt.Errorf("select performance: %w", err)
	}
	if err := json.Unmarshal(ticketTypes, &perf.TicketTypes); err != nil {
		return domain.Performance{}, fmt.Errorf("unmarshal ticket types: %w", err)
	}
	return perf, nil
}
