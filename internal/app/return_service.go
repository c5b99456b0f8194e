package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/clock"
	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

type OrderRepository interface {
	GetByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
}

// ReturnOrderServiceConfig holds the return policy tunables.
type ReturnOrderServiceConfig struct {
	// CancellationWindowDays is how many days before the performance a
	// return is still accepted without the administrative override.
	CancellationWindowDays int
}

const defaultCancellationWindowDays = 3

// ReturnOrderService owns the return-order transaction: a Confirmed
// transaction created per returned order whose exported task refunds the
// payment and releases the seats.
type ReturnOrderService struct {
	transactions TransactionRepository
	orders       OrderRepository
	performances PerformanceRepository
	clock        clock.Clock
	windowDays   int
}

func NewReturnOrderService(
	transactions TransactionRepository,
	orders OrderRepository,
	performances PerformanceRepository,
	clk clock.Clock,
	cfg ReturnOrderServiceConfig,
) *ReturnOrderService {
	windowDays := cfg.CancellationWindowDays
	if windowDays <= 0 {
		windowDays = defaultCancellationWindowDays
	}
	return &ReturnOrderService{
		transactions: transactions,
		orders:       orders,
		performances: performances,
		clock:        clk,
		windowDays:   windowDays,
	}
}

type ConfirmReturnInput struct {
	AgentID     string
	OrderNumber string
	// Forcibly bypasses the cancellation window (administrative use).
	Forcibly bool
}

// Confirm opens and immediately confirms a return-order transaction for
// the named order. A second confirmation of the same order hits the
// uniqueness constraint and reports ErrAlreadyInUse.
func (s *ReturnOrderService) Confirm(ctx context.Context, in ConfirmReturnInput) (domain.Transaction, error) {
	if in.OrderNumber == "" {
		return domain.Transaction{}, fmt.Errorf("order number: %w", domain.ErrArgumentNull)
	}

	order, err := s.orders.GetByOrderNumber(ctx, in.OrderNumber)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("order %s: %w", in.OrderNumber, err)
	}
	if order.ReturnedAt != nil {
		return domain.Transaction{}, fmt.Errorf("order %s already returned: %w", in.OrderNumber, domain.ErrAlreadyInUse)
	}

	now := s.clock.Now()
	if !in.Forcibly {
		startsAt, err := s.earliestPerformanceStart(ctx, order)
		if err != nil {
			return domain.Transaction{}, err
		}
		deadline := startsAt.AddDate(0, 0, -s.windowDays)
		if !now.Before(deadline) {
			return domain.Transaction{}, fmt.Errorf("cancellation window of %d days before %s has closed: %w",
				s.windowDays, startsAt.Format(time.RFC3339), domain.ErrArgument)
		}
	}

	endDate := now
	tx := domain.Transaction{
		ID:      newID(),
		TypeOf:  domain.TransactionTypeReturnOrder,
		Status:  domain.TransactionStatusConfirmed,
		AgentID: in.AgentID,
		Object: domain.TransactionObject{
			OrderNumber: in.OrderNumber,
			Forcibly:    in.Forcibly,
		},
		Expires:                now,
		StartDate:              now,
		EndDate:                &endDate,
		TasksExportationStatus: domain.TasksUnexported,
	}

	if err := s.transactions.Create(ctx, tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("create return transaction: %w", err)
	}
	return tx, nil
}

func (s *ReturnOrderService) earliestPerformanceStart(ctx context.Context, order domain.Order) (time.Time, error) {
	var earliest time.Time
	seen := map[string]bool{}
	for _, offer := range order.AcceptedOffers {
		id := offer.Reservation.PerformanceID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		perf, err := s.performances.Get(ctx, id)
		if err != nil {
			return time.Time{}, fmt.Errorf("performance %s: %w", id, err)
		}
		if earliest.IsZero() || perf.StartsAt.Before(earliest) {
			earliest = perf.StartsAt
		}
	}
	if earliest.IsZero() {
		return time.Time{}, fmt.Errorf("order %s has no reserved performance: %w", order.OrderNumber, domain.ErrArgument)
	}
	return earliest, nil
}
