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

// TransactionRepository persists transactions. All state transitions are
// conditional updates keyed on the current status, so two workers racing
// on the same row resolve at the database without client-side locks.
type TransactionRepository struct {
	db
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{db: db{pool: pool}}
}

const transactionColumns = `id, type_of, status, agent_id, seller_id, seller_identifier, seller_name,
	object, result, expires, start_date, end_date, tasks_exportation_status, tasks_exported_at`

func (r *TransactionRepository) Create(ctx context.Context, tx domain.Transaction) error {
	object, err := json.Marshal(tx.Object)
	if err != nil {
		return fmt.Errorf("marshal transaction object: %w", err)
	}

	// A repeated passport token, or a second ReturnOrder transaction for
	// the same order, trips a unique index.
	_, err = r.exec(ctx, `
		INSERT INTO transactions (
			id, type_of, status, agent_id, seller_id, seller_identifier, seller_name,
			object, result, expires, start_date, end_date, tasks_exportation_status, tasks_exported_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9, $10, $11, $12, NULL)`,
		tx.ID, tx.TypeOf, tx.Status, tx.AgentID, tx.Seller.ID, tx.Seller.Identifier, tx.Seller.Name,
		object, tx.Expires, tx.StartDate, tx.EndDate, tx.TasksExportationStatus,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyInUse
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) Get(ctx context.Context, id string) (domain.Transaction, error) {
	row := r.queryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("select transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) UpdateCustomerContact(ctx context.Context, id string, contact domain.CustomerContact) error {
	payload, err := json.Marshal(contact)
	if err != nil {
		return fmt.Errorf("marshal customer contact: %w", err)
	}

	tag, err := r.exec(ctx, `
		UPDATE transactions
		SET object = jsonb_set(object, '{CustomerContact}', $2::jsonb)
		WHERE id = $1 AND status = $3`,
		id, payload, domain.TransactionStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("update customer contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TransactionRepository) Confirm(ctx context.Context, id string, result domain.TransactionResult, endDate time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal transaction result: %w", err)
	}

	tag, err := r.exec(ctx, `
		UPDATE transactions
		SET status = $2, result = $3, end_date = $4
		WHERE id = $1 AND status = $5`,
		id, domain.TransactionStatusConfirmed, payload, endDate, domain.TransactionStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("confirm transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TransactionRepository) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.exec(ctx, `
		UPDATE transactions
		SET status = $1, end_date = $2
		WHERE status = $3 AND expires <= $2`,
		domain.TransactionStatusExpired, now, domain.TransactionStatusInProgress,
	)
	if err != nil {
		return 0, fmt.Errorf("expire transactions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *TransactionRepository) ClaimForExport(ctx context.Context, typeOf domain.TransactionType, status domain.TransactionStatus) (*domain.Transaction, error) {
	row := r.queryRow(ctx, `
		UPDATE transactions
		SET tasks_exportation_status = $1
		WHERE id = (
			SELECT id FROM transactions
			WHERE type_of = $2 AND status = $3 AND tasks_exportation_status = $4
			ORDER BY start_date
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+transactionColumns,
		domain.TasksExporting, typeOf, status, domain.TasksUnexported,
	)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim transaction for export: %w", err)
	}
	return &tx, nil
}

func (r *TransactionRepository) MarkTasksExported(ctx context.Context, id string, at time.Time) error {
	tag, err := r.exec(ctx, `
		UPDATE transactions
		SET tasks_exportation_status = $2, tasks_exported_at = $3
		WHERE id = $1 AND tasks_exportation_status = $4`,
		id, domain.TasksExported, at, domain.TasksExporting,
	)
	if err != nil {
		return fmt.Errorf("mark tasks exported: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// NextConfirmationNumber draws from a global sequence, so confirmation
// numbers are short, unique and monotonic across the deployment.
func (r *TransactionRepository) NextConfirmationNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := r.queryRow(ctx, `SELECT nextval('order_confirmation_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next confirmation number: %w", err)
	}
	return n, nil
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		tx     domain.Transaction
		object []byte
		result []byte
	)
	if err := row.Scan(
		&tx.ID, &tx.TypeOf, &tx.Status, &tx.AgentID,
		&tx.Seller.ID, &tx.Seller.Identifier, &tx.Seller.Name,
		&object, &result, &tx.Expires, &tx.StartDate, &tx.EndDate,
		&tx.TasksExportationStatus, &tx.TasksExportedAt,
	); err != nil {
		return domain.Transaction{}, err
	}
	if err := json.Unmarshal(object, &tx.Object); err != nil {
		return domain.Transaction{}, fmt.Errorf("unmarshal transaction object: %w", err)
	}
	if len(result) > 0 {
		tx.Result = &domain.TransactionResult{}
		if err := json.Unmarshal(result, tx.Result); err != nil {
			return domain.Transaction{}, fmt.Errorf("unmarshal transaction result: %w", err)
		}
	}
	return tx, nil
}
