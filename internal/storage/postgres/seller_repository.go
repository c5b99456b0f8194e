package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

type SellerRepository struct {
	db
}

func NewSellerRepository(pool *pgxpool.Pool) *SellerRepository {
	return &SellerRepository{db: db{pool: pool}}
}

func (r *SellerRepository) Create(ctx context.Context, seller domain.Seller) error {
	_, err := r.exec(ctx, `
		INSERT INTO sellers (id, identifier, name)
		VALUES ($1, $2, $3)`,
		seller.ID, seller.Identifier, seller.Name,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyInUse
	}
	if err != nil {
		return fmt.Errorf("insert seller: %w", err)
	}
	return nil
}

func (r *SellerRepository) Get(ctx context.Context, id string) (domain.Seller, error) {
	var seller domain.Seller
	err := r.queryRow(ctx, `SELECT id, identifier, name FROM sellers WHERE id = $1`, id).
		Scan(&seller.ID, &seller.Identifier, &seller.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Seller{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Seller{}, fmt.Errorf("select seller: %w", err)
	}
	return seller, nil
}
