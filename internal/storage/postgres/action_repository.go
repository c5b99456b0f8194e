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

// AuthorizeActionRepository persists authorize actions. Object and result
// are stored as jsonb and decoded according to the action type.
type AuthorizeActionRepository struct {
	db
}

func NewAuthorizeActionRepository(pool *pgxpool.Pool) *AuthorizeActionRepository {
	return &AuthorizeActionRepository{db: db{pool: pool}}
}

const actionColumns = `id, transaction_id, agent_id, type_of, status, object, result, error, start_date, end_date`

func (r *AuthorizeActionRepository) Create(ctx context.Context, action domain.AuthorizeAction) error {
	object, result, err := marshalActionPayload(action)
	if err != nil {
		return err
	}

	_, err = r.exec(ctx, `
		INSERT INTO authorize_actions (
			id, transaction_id, agent_id, type_of, status, object, result, error, start_date, end_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		action.ID, action.TransactionID, action.AgentID, action.TypeOf, action.Status,
		object, result, action.Error, action.StartDate, action.EndDate,
	)
	if err != nil {
		return fmt.Errorf("insert authorize action: %w", err)
	}
	return nil
}

func (r *AuthorizeActionRepository) Get(ctx context.Context, id string) (domain.AuthorizeAction, error) {
	row := r.queryRow(ctx, `SELECT `+actionColumns+` FROM authorize_actions WHERE id = $1`, id)
	action, err := scanAction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AuthorizeAction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AuthorizeAction{}, fmt.Errorf("select authorize action: %w", err)
	}
	return action, nil
}

func (r *AuthorizeActionRepository) CompleteSeatReservation(ctx context.Context, id string, result domain.SeatReservationResult, endDate time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal seat reservation result: %w", err)
	}
	return r.transition(ctx, id, domain.ActionStatusActive, domain.ActionStatusCompleted, payload, "", endDate)
}

func (r *AuthorizeActionRepository) CompleteCreditCard(ctx context.Context, id string, result domain.CreditCardResult, endDate time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal credit card result: %w", err)
	}
	return r.transition(ctx, id, domain.ActionStatusActive, domain.ActionStatusCompleted, payload, "", endDate)
}

func (r *AuthorizeActionRepository) MarkFailed(ctx context.Context, id string, cause string, endDate time.Time) error {
	return r.transition(ctx, id, domain.ActionStatusActive, domain.ActionStatusFailed, nil, cause, endDate)
}

// Cancel keeps the result in place; the rollback paths still need the
// engine transaction id and gateway credentials it holds.
func (r *AuthorizeActionRepository) Cancel(ctx context.Context, id string, endDate time.Time) error {
	return r.transition(ctx, id, domain.ActionStatusCompleted, domain.ActionStatusCanceled, nil, "", endDate)
}

func (r *AuthorizeActionRepository) transition(
	ctx context.Context,
	id string,
	from, to domain.ActionStatus,
	result []byte,
	cause string,
	endDate time.Time,
) error {
	tag, err := r.exec(ctx, `
		UPDATE authorize_actions
		SET status = $2,
			result = COALESCE($3, result),
			error = CASE WHEN $4 <> '' THEN $4 ELSE error END,
			end_date = $5
		WHERE id = $1 AND status = $6`,
		id, to, result, cause, endDate, from,
	)
	if err != nil {
		return fmt.Errorf("update authorize action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AuthorizeActionRepository) ListCompletedByTransaction(ctx context.Context, transactionID string, typeOf domain.AuthorizeActionType) ([]domain.AuthorizeAction, error) {
	rows, err := r.query(ctx, `
		SELECT `+actionColumns+` FROM authorize_actions
		WHERE transaction_id = $1 AND type_of = $2 AND status = $3
		ORDER BY start_date`,
		transactionID, typeOf, domain.ActionStatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("select authorize actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.AuthorizeAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan authorize action: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func marshalActionPayload(action domain.AuthorizeAction) (object, result []byte, err error) {
	switch action.TypeOf {
	case domain.AuthorizeActionSeatReservation:
		if object, err = json.Marshal(action.SeatReservation); err != nil {
			return nil, nil, fmt.Errorf("marshal seat reservation object: %w", err)
		}
		if action.SeatReservationResult != nil {
			if result, err = json.Marshal(action.SeatReservationResult); err != nil {
				return nil, nil, fmt.Errorf("marshal seat reservation result: %w", err)
			}
		}
	case domain.AuthorizeActionCreditCard:
		if object, err = json.Marshal(action.CreditCard); err != nil {
			return nil, nil, fmt.Errorf("marshal credit card object: %w", err)
		}
		if action.CreditCardResult != nil {
			if result, err = json.Marshal(action.CreditCardResult); err != nil {
				return nil, nil, fmt.Errorf("marshal credit card result: %w", err)
			}
		}
	default:
		return nil, nil, fmt.Errorf("authorize action type %q: %w", action.TypeOf, domain.ErrArgument)
	}
	return object, result, nil
}

func scanAction(row pgx.Row) (domain.AuthorizeAction, error) {
	var (
		action domain.AuthorizeAction
		object []byte
		result []byte
	)
	if err := row.Scan(
		&action.ID, &action.TransactionID, &action.AgentID, &action.TypeOf, &action.Status,
		&object, &result, &action.Error, &action.StartDate, &action.EndDate,
	); err != nil {
		return domain.AuthorizeAction{}, err
	}

	switch action.TypeOf {
	case domain.AuthorizeActionSeatReservation:
		action.SeatReservation = &domain.SeatReservationObject{}
		if err := json.Unmarshal(object, action.SeatReservation); err != nil {
			return domain.AuthorizeAction{}, fmt.Errorf("unmarshal seat reservation object: %w", err)
		}
		if len(result) > 0 {
			action.SeatReservationResult = &domain.SeatReservationResult{}
			if err := json.Unmarshal(result, action.SeatReservationResult); err != nil {
				return domain.AuthorizeAction{}, fmt.Errorf("unmarshal seat reservation result: %w", err)
			}
		}
	case domain.AuthorizeActionCreditCard:
		action.CreditCard = &domain.CreditCardObject{}
		if err := json.Unmarshal(object, action.CreditCard); err != nil {
			return domain.AuthorizeAction{}, fmt.Errorf("unmarshal credit card object: %w", err)
		}
		if len(result) > 0 {
			action.CreditCardResult = &domain.CreditCardResult{}
			if err := json.Unmarshal(result, action.CreditCardResult); err != nil {
				return domain.AuthorizeAction{}, fmt.Errorf("unmarshal credit card result: %w", err)
			}
		}
	}
	return action, nil
}
