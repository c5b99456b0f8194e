package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"

	"github.com/tokyo-tower/domain-sub000/internal/clock"
	"github.com/tokyo-tower/domain-sub000/internal/domain"
	"github.com/tokyo-tower/domain-sub000/internal/passport"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx domain.Transaction) error
	Get(ctx context.Context, id string) (domain.Transaction, error)
	UpdateCustomerContact(ctx context.Context, id string, contact domain.CustomerContact) error
	// Confirm performs the InProgress -> Confirmed compare-and-swap,
	// returning domain.ErrNotFound when the transaction was no longer
	// InProgress (a concurrent confirm or the expiry sweep won).
	Confirm(ctx context.Context, id string, result domain.TransactionResult, endDate time.Time) error
	// ExpireSweep transitions every InProgress transaction whose deadline
	// passed to Expired and reports how many it moved.
	ExpireSweep(ctx context.Context, now time.Time) (int, error)
	// ClaimForExport atomically claims one terminal transaction whose
	// tasks are Unexported (CAS Unexported -> Exporting). Returns nil
	// when nothing is claimable.
	ClaimForExport(ctx context.Context, typeOf domain.TransactionType, status domain.TransactionStatus) (*domain.Transaction, error)
	MarkTasksExported(ctx context.Context, id string, at time.Time) error
	NextConfirmationNumber(ctx context.Context) (int64, error)
}

type AuthorizeActionRepository interface {
	Create(ctx context.Context, action domain.AuthorizeAction) error
	Get(ctx context.Context, id string) (domain.AuthorizeAction, error)
	// CompleteSeatReservation transitions Active -> Completed recording
	// the engine result; domain.ErrNotFound when the action left Active.
	CompleteSeatReservation(ctx context.Context, id string, result domain.SeatReservationResult, endDate time.Time) error
	CompleteCreditCard(ctx context.Context, id string, result domain.CreditCardResult, endDate time.Time) error
	MarkFailed(ctx context.Context, id string, cause string, endDate time.Time) error
	// Cancel transitions Completed -> Canceled, retaining the result for
	// rollback; domain.ErrNotFound when the action was not Completed.
	Cancel(ctx context.Context, id string, endDate time.Time) error
	ListCompletedByTransaction(ctx context.Context, transactionID string, typeOf domain.AuthorizeActionType) ([]domain.AuthorizeAction, error)
}

type SellerRepository interface {
	Get(ctx context.Context, id string) (domain.Seller, error)
}

// CounterRepository counts started transactions per unit window; the
// passportless start path throttles on it.
type CounterRepository interface {
	Increment(ctx context.Context, scope string, unitFrom, unitTo time.Time) (int, error)
}

type TaskRepository interface {
	CreateTasks(ctx context.Context, tasks []domain.Task) error
}

// TxRunner runs fn atomically against the backing store. When absent the
// service falls back to sequential writes.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// PassportVerifier abstracts permit-token verification.
type PassportVerifier interface {
	Verify(token, sellerIdentifier string) (passport.Passport, error)
}

type TransactionService struct {
	repo     TransactionRepository
	actions  AuthorizeActionRepository
	sellers  SellerRepository
	tasks    TaskRepository
	passport PassportVerifier
	// counter may be nil; the passportless start path then fails with
	// a missing-argument error.
	counter     CounterRepository
	counterUnit time.Duration
	// runner, when set, commits the export claim, task emission and the
	// Exported mark as one unit.
	runner TxRunner
	clock  clock.Clock
}

type TransactionServiceOption func(*TransactionService)

// WithTransactionCounter enables the passportless start path, counting
// started transactions per unit window.
func WithTransactionCounter(counter CounterRepository, unit time.Duration) TransactionServiceOption {
	return func(s *TransactionService) {
		s.counter = counter
		s.counterUnit = unit
	}
}

// WithAtomicExport makes ExportTasks run the claim, the task writes and
// the Exported mark in one storage transaction, so a failed export leaves
// the transaction claimable.
func WithAtomicExport(runner TxRunner) TransactionServiceOption {
	return func(s *TransactionService) {
		s.runner = runner
	}
}

func NewTransactionService(
	repo TransactionRepository,
	actions AuthorizeActionRepository,
	sellers SellerRepository,
	tasks TaskRepository,
	verifier PassportVerifier,
	clk clock.Clock,
	opts ...TransactionServiceOption,
) *TransactionService {
	svc := &TransactionService{
		repo:        repo,
		actions:     actions,
		sellers:     sellers,
		tasks:       tasks,
		passport:    verifier,
		counterUnit: time.Hour,
		clock:       clk,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type StartInput struct {
	SellerID       string
	AgentID        string
	Expires        time.Time
	PurchaserGroup string
	// PassportToken admits the purchaser when present. Without it the
	// caller must set UnitCeiling and the service must carry a counter.
	PassportToken string
	UnitCeiling   int
}

func (s *TransactionService) Start(ctx context.Context, in StartInput) (domain.Transaction, error) {
	if in.AgentID == "" {
		return domain.Transaction{}, fmt.Errorf("agent id: %w", domain.ErrArgumentNull)
	}
	now := s.clock.Now()
	if !in.Expires.After(now) {
		return domain.Transaction{}, fmt.Errorf("expires must be in the future: %w", domain.ErrArgument)
	}

	seller, err := s.sellers.Get(ctx, in.SellerID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("seller %s: %w", in.SellerID, err)
	}

	if in.PassportToken != "" {
		if _, err := s.passport.Verify(in.PassportToken, seller.Identifier); err != nil {
			return domain.Transaction{}, err
		}
	} else {
		if s.counter == nil || in.UnitCeiling <= 0 {
			return domain.Transaction{}, fmt.Errorf("passport or transaction-count ceiling: %w", domain.ErrArgumentNull)
		}
		unitFrom := now.Truncate(s.counterUnit)
		count, err := s.counter.Increment(ctx, "placeOrder:"+seller.Identifier, unitFrom, unitFrom.Add(s.counterUnit))
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("count transactions: %w", err)
		}
		if count > in.UnitCeiling {
			return domain.Transaction{}, fmt.Errorf("transaction count %d over ceiling %d: %w", count, in.UnitCeiling, domain.ErrRateLimitExceeded)
		}
	}

	tx := domain.Transaction{
		ID:      newID(),
		TypeOf:  domain.TransactionTypePlaceOrder,
		Status:  domain.TransactionStatusInProgress,
		AgentID: in.AgentID,
		Seller:  seller,
		Object: domain.TransactionObject{
			PassportToken:  in.PassportToken,
			PurchaserGroup: in.PurchaserGroup,
		},
		Expires:                in.Expires,
		StartDate:              now,
		TasksExportationStatus: domain.TasksUnexported,
	}

	// The unique index on the passport token turns a replayed token into
	// ErrAlreadyInUse here.
	if err := s.repo.Create(ctx, tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return tx, nil
}

type SetCustomerContactInput struct {
	AgentID       string
	TransactionID string
	Contact       domain.CustomerContact
}

func (s *TransactionService) SetCustomerContact(ctx context.Context, in SetCustomerContactInput) (domain.CustomerContact, error) {
	tx, err := s.ownedInProgress(ctx, in.AgentID, in.TransactionID)
	if err != nil {
		return domain.CustomerContact{}, err
	}

	contact := in.Contact
	formatted, err := formatTelephone(contact.Telephone)
	if err != nil {
		return domain.CustomerContact{}, err
	}
	contact.Telephone = formatted

	if err := s.repo.UpdateCustomerContact(ctx, tx.ID, contact); err != nil {
		return domain.CustomerContact{}, fmt.Errorf("update customer contact: %w", err)
	}
	return contact, nil
}

type ConfirmInput struct {
	AgentID       string
	TransactionID string
	PaymentMethod domain.PaymentMethod
}

func (s *TransactionService) Confirm(ctx context.Context, in ConfirmInput) (domain.Order, error) {
	tx, err := s.ownedInProgress(ctx, in.AgentID, in.TransactionID)
	if err != nil {
		return domain.Order{}, err
	}
	if tx.Object.CustomerContact == nil {
		return domain.Order{}, fmt.Errorf("customer contact: %w", domain.ErrArgumentNull)
	}

	seatActions, err := s.actions.ListCompletedByTransaction(ctx, tx.ID, domain.AuthorizeActionSeatReservation)
	if err != nil {
		return domain.Order{}, fmt.Errorf("list seat authorizations: %w", err)
	}
	if len(seatActions) == 0 {
		return domain.Order{}, fmt.Errorf("no completed seat authorization: %w", domain.ErrArgument)
	}

	var reservationTotal int64
	var offers []domain.AcceptedOffer
	var engineTxIDs []string
	for _, a := range seatActions {
		res := a.SeatReservationResult
		if res == nil {
			return domain.Order{}, fmt.Errorf("seat authorization %s has no result: %w", a.ID, domain.ErrArgument)
		}
		reservationTotal += res.Price
		engineTxIDs = append(engineTxIDs, res.EngineTransactionID)
		for _, r := range res.Reservations {
			offers = append(offers, domain.AcceptedOffer{Reservation: r, Price: r.UnitPrice})
		}
	}

	var access domain.CreditCardResult
	var paymentOrderID string
	if in.PaymentMethod == domain.PaymentMethodCreditCard {
		ccActions, err := s.actions.ListCompletedByTransaction(ctx, tx.ID, domain.AuthorizeActionCreditCard)
		if err != nil {
			return domain.Order{}, fmt.Errorf("list payment authorizations: %w", err)
		}
		var paymentTotal int64
		for _, a := range ccActions {
			if a.CreditCardResult == nil {
				continue
			}
			paymentTotal += a.CreditCardResult.Amount
			access = *a.CreditCardResult
			if a.CreditCard != nil {
				paymentOrderID = a.CreditCard.OrderID
			}
		}
		// The core monetary consistency check: minor-unit integers only.
		if paymentTotal != reservationTotal {
			return domain.Order{}, fmt.Errorf("authorized payment %d does not match reservation total %d: %w",
				paymentTotal, reservationTotal, domain.ErrArgument)
		}
	}

	now := s.clock.Now()
	confirmationNumber, err := s.repo.NextConfirmationNumber(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("confirmation number: %w", err)
	}

	order := domain.Order{
		OrderNumber:          orderNumber(performanceDay(seatActions), tx.ID),
		ConfirmationNumber:   confirmationNumber,
		AcceptedOffers:       offers,
		PaymentMethod:        in.PaymentMethod,
		Price:                reservationTotal,
		Customer:             *tx.Object.CustomerContact,
		OrderDate:            now,
		PaymentOrderID:       paymentOrderID,
		PaymentAccessID:      access.AccessID,
		PaymentAccessPass:    access.AccessPass,
		EngineTransactionIDs: engineTxIDs,
	}

	if err := s.repo.Confirm(ctx, tx.ID, domain.TransactionResult{Order: order}, now); err != nil {
		return domain.Order{}, fmt.Errorf("confirm transaction: %w", err)
	}
	return order, nil
}

// ExpireSweep moves overdue InProgress transactions to Expired; the
// scheduler calls it periodically.
func (s *TransactionService) ExpireSweep(ctx context.Context) (int, error) {
	return s.repo.ExpireSweep(ctx, s.clock.Now())
}

// ExportTasks claims at most one transaction of the given type and
// terminal status whose tasks are unexported, derives its task set and
// marks it exported. Returns nil when there is nothing to export; the
// polling scheduler treats that as a normal idle tick.
func (s *TransactionService) ExportTasks(ctx context.Context, typeOf domain.TransactionType, status domain.TransactionStatus) (*domain.Transaction, error) {
	// The claim rides in the same storage transaction as task creation
	// and the Exported mark, so any failure rolls the row back to
	// Unexported and a later poll picks it up again. Concurrent workers
	// stay serialized by the claim's row lock.
	var claimed *domain.Transaction
	export := func(ctx context.Context) error {
		tx, err := s.repo.ClaimForExport(ctx, typeOf, status)
		if err != nil {
			return fmt.Errorf("claim for export: %w", err)
		}
		if tx == nil {
			return nil
		}

		tasks, err := s.deriveTasks(*tx, status)
		if err != nil {
			return err
		}
		if len(tasks) > 0 {
			if err := s.tasks.CreateTasks(ctx, tasks); err != nil {
				return fmt.Errorf("create tasks: %w", err)
			}
		}
		if err := s.repo.MarkTasksExported(ctx, tx.ID, s.clock.Now()); err != nil {
			return fmt.Errorf("mark exported: %w", err)
		}
		claimed = tx
		return nil
	}

	var err error
	if s.runner != nil {
		err = s.runner.InTransaction(ctx, export)
	} else {
		err = export(ctx)
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *TransactionService) deriveTasks(tx domain.Transaction, status domain.TransactionStatus) ([]domain.Task, error) {
	now := s.clock.Now()

	var names []domain.TaskName
	switch {
	case tx.TypeOf == domain.TransactionTypeReturnOrder && status == domain.TransactionStatusConfirmed:
		names = []domain.TaskName{domain.TaskReturnOrder}
	case status == domain.TransactionStatusConfirmed:
		names = []domain.TaskName{
			domain.TaskSettleSeatReservation,
			domain.TaskSettlePayment,
			domain.TaskPlaceOrder,
			domain.TaskAggregateSales,
			domain.TaskSendEmailNotification,
		}
	case status == domain.TransactionStatusExpired, status == domain.TransactionStatusCanceled:
		names = []domain.TaskName{
			domain.TaskCancelSeatReservation,
			domain.TaskCancelPayment,
		}
	default:
		return nil, fmt.Errorf("tasks for status %s: %w", status, domain.ErrNotImplemented)
	}

	tasks := make([]domain.Task, 0, len(names))
	for _, name := range names {
		task, err := NewTransactionTask(name, tx.ID, now)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s *TransactionService) ownedInProgress(ctx context.Context, agentID, transactionID string) (domain.Transaction, error) {
	tx, err := s.repo.Get(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", transactionID, err)
	}
	if tx.AgentID != agentID {
		return domain.Transaction{}, fmt.Errorf("transaction %s is not owned by agent %s: %w", transactionID, agentID, domain.ErrForbidden)
	}
	if tx.Status != domain.TransactionStatusInProgress {
		return domain.Transaction{}, fmt.Errorf("transaction %s is %s: %w", transactionID, tx.Status, domain.ErrNotFound)
	}
	return tx, nil
}

func formatTelephone(tel string) (string, error) {
	if tel == "" {
		return "", fmt.Errorf("telephone: %w", domain.ErrArgumentNull)
	}
	num, err := phonenumbers.Parse(tel, defaultPhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("telephone %q: %w", tel, domain.ErrArgument)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

const defaultPhoneRegion = "JP"

// performanceDay picks the day component of the order number from the
// first seat authorization that recorded one.
func performanceDay(actions []domain.AuthorizeAction) string {
	for _, a := range actions {
		if a.SeatReservation != nil && a.SeatReservation.PerformanceDay != "" {
			return a.SeatReservation.PerformanceDay
		}
	}
	return ""
}

// orderNumber derives the globally-unique order number: performance day
// plus a token from the transaction id. The unique index on orders backs
// the uniqueness invariant.
func orderNumber(day, transactionID string) string {
	token := strings.ToUpper(strings.ReplaceAll(transactionID, "-", ""))
	if len(token) > 8 {
		token = token[:8]
	}
	if day == "" {
		day = "TT"
	}
	return day + "-" + token
}
