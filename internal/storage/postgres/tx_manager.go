package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TxManager opens a storage transaction and carries it through the
// context; every repository call inside fn joins it.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

func (m *TxManager) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, m.pool, fn)
}
