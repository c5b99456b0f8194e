package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/clock"
	"github.com/tokyo-tower/domain-sub000/internal/domain"
	"github.com/tokyo-tower/domain-sub000/internal/notify"
	"github.com/tokyo-tower/domain-sub000/internal/payment"
	"github.com/tokyo-tower/domain-sub000/internal/reservation"
)

type TransactionStore interface {
	Get(ctx context.Context, id string) (domain.Transaction, error)
	ListCompletedActions(ctx context.Context, transactionID string, typeOf domain.AuthorizeActionType) ([]domain.AuthorizeAction, error)
}

type OrderStore interface {
	// Create reports domain.ErrAlreadyInUse when the order number exists.
	Create(ctx context.Context, order domain.Order) error
	GetByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	MarkReturned(ctx context.Context, orderNumber string, at time.Time) error
}

// AvailabilityCache holds the non-authoritative, TTL-bearing seat counts
// the aggregate handler maintains.
type AvailabilityCache interface {
	Put(ctx context.Context, performanceID string, availableSeats int, ttl time.Duration) error
}

// Handlers are the task payloads: individually simple, their reliable
// coordination is what the queue exists for. Every handler is safe to
// run again over partial prior side effects.
type Handlers struct {
	Transactions TransactionStore
	Orders       OrderStore
	Engine       reservation.Engine
	Gateway      payment.Gateway
	Mailer       notify.Sender
	Availability AvailabilityCache
	Clock        clock.Clock
	// AvailabilityTTL bounds the staleness of cached seat counts.
	AvailabilityTTL time.Duration
}

// RegisterAll binds every handler to its task name.
func (h *Handlers) RegisterAll(e *Engine) {
	e.Register(domain.TaskSettleSeatReservation, h.SettleSeatReservation)
	e.Register(domain.TaskSettlePayment, h.SettlePayment)
	e.Register(domain.TaskCancelSeatReservation, h.CancelSeatReservation)
	e.Register(domain.TaskCancelPayment, h.CancelPayment)
	e.Register(domain.TaskPlaceOrder, h.PlaceOrder)
	e.Register(domain.TaskReturnOrder, h.ReturnOrder)
	e.Register(domain.TaskAggregateSales, h.AggregateSales)
	e.Register(domain.TaskSendEmailNotification, h.SendEmailNotification)
}

// SettleSeatReservation confirms every engine transaction held by the
// confirmed transaction's seat authorizations.
func (h *Handlers) SettleSeatReservation(ctx context.Context, task domain.Task) error {
	actions, err := h.seatActions(ctx, task)
	if err != nil {
		return err
	}
	for _, a := range actions {
		res := a.SeatReservationResult
		if res == nil {
			continue
		}
		ids := make([]string, 0, len(res.Reservations))
		for _, r := range res.Reservations {
			ids = append(ids, r.ReservationID)
		}
		if err := h.Engine.Confirm(ctx, res.EngineTransactionID, ids); err != nil {
			return fmt.Errorf("confirm engine transaction %s: %w", res.EngineTransactionID, err)
		}
	}
	return nil
}

// SettlePayment captures the AUTH hold. The gateway's current trade
// state is the idempotency source of truth: an already-settled trade is
// skipped, never re-submitted.
func (h *Handlers) SettlePayment(ctx context.Context, task domain.Task) error {
	actions, err := h.creditCardActions(ctx, task)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if a.CreditCard == nil || a.CreditCardResult == nil {
			continue
		}
		trade, err := h.Gateway.SearchTrade(ctx, a.CreditCard.OrderID)
		if err != nil {
			return fmt.Errorf("search trade %s: %w", a.CreditCard.OrderID, err)
		}
		if trade.Status == payment.JobCdSales {
			continue
		}
		access := payment.TranResult{AccessID: a.CreditCardResult.AccessID, AccessPass: a.CreditCardResult.AccessPass}
		if err := h.Gateway.AlterTran(ctx, access, payment.JobCdSales, a.CreditCardResult.Amount); err != nil {
			return fmt.Errorf("settle trade %s: %w", a.CreditCard.OrderID, err)
		}
	}
	return nil
}

// CancelSeatReservation releases the engine holds of a terminated
// transaction. A hold the engine no longer knows is already released.
func (h *Handlers) CancelSeatReservation(ctx context.Context, task domain.Task) error {
	actions, err := h.seatActions(ctx, task)
	if err != nil {
		return err
	}
	for _, a := range actions {
		res := a.SeatReservationResult
		if res == nil || res.EngineTransactionID == "" {
			continue
		}
		if err := h.Engine.Cancel(ctx, res.EngineTransactionID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return fmt.Errorf("cancel engine transaction %s: %w", res.EngineTransactionID, err)
		}
	}
	return nil
}

// CancelPayment releases the payment hold of a terminated transaction:
// an unsettled AUTH is voided, a settled trade is refunded.
func (h *Handlers) CancelPayment(ctx context.Context, task domain.Task) error {
	actions, err := h.creditCardActions(ctx, task)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if a.CreditCard == nil || a.CreditCardResult == nil {
			continue
		}
		trade, err := h.Gateway.SearchTrade(ctx, a.CreditCard.OrderID)
		if err != nil {
			return fmt.Errorf("search trade %s: %w", a.CreditCard.OrderID, err)
		}
		access := payment.TranResult{AccessID: a.CreditCardResult.AccessID, AccessPass: a.CreditCardResult.AccessPass}
		switch trade.Status {
		case payment.JobCdVoid, payment.JobCdReturn:
			continue
		case payment.JobCdSales:
			err = h.Gateway.AlterTran(ctx, access, payment.JobCdReturn, a.CreditCardResult.Amount)
		default:
			err = h.Gateway.AlterTran(ctx, access, payment.JobCdVoid, a.CreditCardResult.Amount)
		}
		if err != nil {
			return fmt.Errorf("cancel trade %s: %w", a.CreditCard.OrderID, err)
		}
	}
	return nil
}

// PlaceOrder materializes the confirmed transaction's order record.
func (h *Handlers) PlaceOrder(ctx context.Context, task domain.Task) error {
	tx, err := h.transaction(ctx, task)
	if err != nil {
		return err
	}
	if tx.Result == nil {
		return fmt.Errorf("transaction %s has no result: %w", tx.ID, domain.ErrArgument)
	}
	if err := h.Orders.Create(ctx, tx.Result.Order); err != nil {
		// A prior attempt already materialized it.
		if errors.Is(err, domain.ErrAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("create order %s: %w", tx.Result.Order.OrderNumber, err)
	}
	return nil
}

// ReturnOrder processes a confirmed return: refund the trade, release
// the seats, mark the order returned, notify the customer.
func (h *Handlers) ReturnOrder(ctx context.Context, task domain.Task) error {
	tx, err := h.transaction(ctx, task)
	if err != nil {
		return err
	}
	order, err := h.Orders.GetByOrderNumber(ctx, tx.Object.OrderNumber)
	if err != nil {
		return fmt.Errorf("order %s: %w", tx.Object.OrderNumber, err)
	}
	if order.ReturnedAt != nil {
		return nil
	}

	if order.PaymentOrderID != "" {
		trade, err := h.Gateway.SearchTrade(ctx, order.PaymentOrderID)
		if err != nil {
			return fmt.Errorf("search trade %s: %w", order.PaymentOrderID, err)
		}
		if trade.Status != payment.JobCdReturn {
			access := payment.TranResult{AccessID: order.PaymentAccessID, AccessPass: order.PaymentAccessPass}
			if err := h.Gateway.AlterTran(ctx, access, payment.JobCdReturn, order.Price); err != nil {
				return fmt.Errorf("refund trade %s: %w", order.PaymentOrderID, err)
			}
		}
	}

	for _, engineTxID := range order.EngineTransactionIDs {
		if err := h.Engine.Cancel(ctx, engineTxID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("cancel engine transaction %s: %w", engineTxID, err)
		}
	}

	if err := h.Orders.MarkReturned(ctx, order.OrderNumber, h.Clock.Now()); err != nil {
		return fmt.Errorf("mark order %s returned: %w", order.OrderNumber, err)
	}

	msg := notify.Message{
		To:      order.Customer.Email,
		ToName:  order.Customer.LastName + " " + order.Customer.FirstName,
		Subject: fmt.Sprintf("Your order %s has been returned", order.OrderNumber),
		Text:    fmt.Sprintf("Order %s (confirmation %d) was returned and the payment of %d has been refunded.", order.OrderNumber, order.ConfirmationNumber, order.Price),
	}
	if err := h.Mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify return of %s: %w", order.OrderNumber, err)
	}
	return nil
}

// AggregateSales refreshes the cached seat count of one performance from
// the engine's availability view. The cache is advisory; the engine
// remains the authority.
func (h *Handlers) AggregateSales(ctx context.Context, task domain.Task) error {
	var data domain.AggregateTaskData
	if err := json.Unmarshal(task.Data, &data); err != nil {
		return fmt.Errorf("decode task data: %w", err)
	}
	availability, err := h.Engine.SearchAvailability(ctx, data.PerformanceID)
	if err != nil {
		return fmt.Errorf("search availability %s: %w", data.PerformanceID, err)
	}
	available := 0
	for _, a := range availability {
		if a.Available {
			available++
		}
	}
	ttl := h.AvailabilityTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := h.Availability.Put(ctx, data.PerformanceID, available, ttl); err != nil {
		return fmt.Errorf("cache availability %s: %w", data.PerformanceID, err)
	}
	return nil
}

// SendEmailNotification mails the purchase confirmation.
func (h *Handlers) SendEmailNotification(ctx context.Context, task domain.Task) error {
	tx, err := h.transaction(ctx, task)
	if err != nil {
		return err
	}
	if tx.Result == nil {
		return fmt.Errorf("transaction %s has no result: %w", tx.ID, domain.ErrArgument)
	}
	order := tx.Result.Order
	msg := notify.Message{
		To:      order.Customer.Email,
		ToName:  order.Customer.LastName + " " + order.Customer.FirstName,
		Subject: fmt.Sprintf("Order %s confirmed", order.OrderNumber),
		Text:    fmt.Sprintf("Your order %s is confirmed. Confirmation number: %d. Total: %d.", order.OrderNumber, order.ConfirmationNumber, order.Price),
	}
	if err := h.Mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify order %s: %w", order.OrderNumber, err)
	}
	return nil
}

func (h *Handlers) transaction(ctx context.Context, task domain.Task) (domain.Transaction, error) {
	var data domain.TransactionTaskData
	if err := json.Unmarshal(task.Data, &data); err != nil {
		return domain.Transaction{}, fmt.Errorf("decode task data: %w", err)
	}
	tx, err := h.Transactions.Get(ctx, data.TransactionID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", data.TransactionID, err)
	}
	return tx, nil
}

func (h *Handlers) seatActions(ctx context.Context, task domain.Task) ([]domain.AuthorizeAction, error) {
	tx, err := h.transaction(ctx, task)
	if err != nil {
		return nil, err
	}
	return h.Transactions.ListCompletedActions(ctx, tx.ID, domain.AuthorizeActionSeatReservation)
}

func (h *Handlers) creditCardActions(ctx context.Context, task domain.Task) ([]domain.AuthorizeAction, error) {
	tx, err := h.transaction(ctx, task)
	if err != nil {
		return nil, err
	}
	return h.Transactions.ListCompletedActions(ctx, tx.ID, domain.AuthorizeActionCreditCard)
}
