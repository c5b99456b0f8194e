package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

// OrderRepository persists confirmed orders. Orders are written once by
// the placeOrder task and touched again only to stamp returned_at.
type OrderRepository struct {
	db
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: db{pool: pool}}
}

const orderColumns = `order_number, confirmation_number, accepted_offers, payment_method, price,
	customer, order_date, payment_order_id, payment_access_id, payment_access_pass,
	engine_transaction_ids, returned_at`

func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	offers, err := json.Marshal(order.AcceptedOffers)
	if err != nil {
		return fmt.Errorf("marshal accepted offers: %w", err)
	}
	customer, err := json.Marshal(order.Customer)
	if err != nil {
		return fmt.Errorf("marshal customer: %w", err)
	}

	_, err = r.exec(ctx, `
		INSERT INTO orders (
			order_number, confirmation_number, accepted_offers, payment_method, price,
			customer, order_date, payment_order_id, payment_access_id, payment_access_pass,
			engine_transaction_ids, returned_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL)`,
		order.OrderNumber, order.ConfirmationNumber, offers, order.PaymentMethod, order.Price,
		customer, order.OrderDate, order.PaymentOrderID, order.PaymentAccessID, order.PaymentAccessPass,
		order.EngineTransactionIDs,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyInUse
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	var (
		order    domain.Order
		offers   []byte
		customer []byte
	)
	err := r.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber).Scan(
		&order.OrderNumber, &order.ConfirmationNumber, &offers, &order.PaymentMethod, &order.Price,
		&customer, &order.OrderDate, &order.PaymentOrderID, &order.PaymentAccessID, &order.PaymentAccessPass,
		&order.EngineTransactionIDs, &order.ReturnedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	if err := json.Unmarshal(offers, &order.AcceptedOffers); err != nil {
		return domain.Order{}, fmt.Errorf("unmarshal accepted offers: %w", err)
	}
	if err := json.Unmarshal(customer, &order.Customer); err != nil {
		return domain.Order{}, fmt.Errorf("unmarshal customer: %w", err)
	}
	return order, nil
}

// MarkReturned stamps returned_at once; a repeat call is a no-op so the
// return task stays re-runnable.
func (r *OrderRepository) MarkReturned(ctx context.Context, orderNumber string, at time.Time) error {
	_, err := r.exec(ctx, `
		UPDATE orders SET returned_at = $2
		WHERE order_number = $1 AND returned_at IS NULL`,
		orderNumber, at,
	)
	if err != nil {
		return fmt.Errorf("mark order returned: %w", err)
	}
	return nil
}
