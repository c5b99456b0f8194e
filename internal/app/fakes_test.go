package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
	"github.com/tokyo-tower/domain-sub000/internal/passport"
	"github.com/tokyo-tower/domain-sub000/internal/reservation"
)

type fakeTransactionRepo struct {
	mu               sync.Mutex
	transactions     map[string]domain.Transaction
	confirmationSeq  int64
	passportTokens   map[string]bool
	returnedOrderTxs map[string]bool
}

func newFakeTransactionRepo() *fakeTransactionRepo {
	return &fakeTransactionRepo{
		transactions:     map[string]domain.Transaction{},
		confirmationSeq:  100000,
		passportTokens:   map[string]bool{},
		returnedOrderTxs: map[string]bool{},
	}
}

func (r *fakeTransactionRepo) Create(_ context.Context, tx domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx.Object.PassportToken != "" {
		if r.passportTokens[tx.Object.PassportToken] {
			return domain.ErrAlreadyInUse
		}
		r.passportTokens[tx.Object.PassportToken] = true
	}
	if tx.TypeOf == domain.TransactionTypeReturnOrder {
		if r.returnedOrderTxs[tx.Object.OrderNumber] {
			return domain.ErrAlreadyInUse
		}
		r.returnedOrderTxs[tx.Object.OrderNumber] = true
	}
	r.transactions[tx.ID] = tx
	return nil
}

func (r *fakeTransactionRepo) Get(_ context.Context, id string) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return tx, nil
}

func (r *fakeTransactionRepo) UpdateCustomerContact(_ context.Context, id string, contact domain.CustomerContact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok || tx.Status != domain.TransactionStatusInProgress {
		return domain.ErrNotFound
	}
	tx.Object.CustomerContact = &contact
	r.transactions[id] = tx
	return nil
}

func (r *fakeTransactionRepo) Confirm(_ context.Context, id string, result domain.TransactionResult, endDate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok || tx.Status != domain.TransactionStatusInProgress {
		return domain.ErrNotFound
	}
	tx.Status = domain.TransactionStatusConfirmed
	tx.Result = &result
	tx.EndDate = &endDate
	r.transactions[id] = tx
	return nil
}

func (r *fakeTransactionRepo) ExpireSweep(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, tx := range r.transactions {
		if tx.Status == domain.TransactionStatusInProgress && !tx.Expires.After(now) {
			tx.Status = domain.TransactionStatusExpired
			tx.EndDate = &now
			r.transactions[id] = tx
			n++
		}
	}
	return n, nil
}

func (r *fakeTransactionRepo) ClaimForExport(_ context.Context, typeOf domain.TransactionType, status domain.TransactionStatus) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, tx := range r.transactions {
		if tx.TypeOf == typeOf && tx.Status == status && tx.TasksExportationStatus == domain.TasksUnexported {
			tx.TasksExportationStatus = domain.TasksExporting
			r.transactions[id] = tx
			claimed := tx
			return &claimed, nil
		}
	}
	return nil, nil
}

func (r *fakeTransactionRepo) MarkTasksExported(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok || tx.TasksExportationStatus != domain.TasksExporting {
		return domain.ErrNotFound
	}
	tx.TasksExportationStatus = domain.TasksExported
	tx.TasksExportedAt = &at
	r.transactions[id] = tx
	return nil
}

func (r *fakeTransactionRepo) snapshot() map[string]domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[string]domain.Transaction, len(r.transactions))
	for id, tx := range r.transactions {
		copied[id] = tx
	}
	return copied
}

func (r *fakeTransactionRepo) restore(transactions map[string]domain.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions = transactions
}

func (r *fakeTransactionRepo) NextConfirmationNumber(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmationSeq++
	return r.confirmationSeq, nil
}

type fakeActionRepo struct {
	mu      sync.Mutex
	actions map[string]domain.AuthorizeAction
}

func newFakeActionRepo() *fakeActionRepo {
	return &fakeActionRepo{actions: map[string]domain.AuthorizeAction{}}
}

func (r *fakeActionRepo) Create(_ context.Context, action domain.AuthorizeAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action.ID] = action
	return nil
}

func (r *fakeActionRepo) Get(_ context.Context, id string) (domain.AuthorizeAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	action, ok := r.actions[id]
	if !ok {
		return domain.AuthorizeAction{}, domain.ErrNotFound
	}
	return action, nil
}

func (r *fakeActionRepo) CompleteSeatReservation(_ context.Context, id string, result domain.SeatReservationResult, endDate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	action, ok := r.actions[id]
	if !ok || action.Status != domain.ActionStatusActive {
		return domain.ErrNotFound
	}
	action.Status = domain.ActionStatusCompleted
	action.SeatReservationResult = &result
	action.EndDate = &endDate
	r.actions[id] = action
	return nil
}

func (r *fakeActionRepo) CompleteCreditCard(_ context.Context, id string, result domain.CreditCardResult, endDate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	action, ok := r.actions[id]
	if !ok || action.Status != domain.ActionStatusActive {
		return domain.ErrNotFound
	}
	action.Status = domain.ActionStatusCompleted
	action.CreditCardResult = &result
	action.EndDate = &endDate
	r.actions[id] = action
	return nil
}

func (r *fakeActionRepo) MarkFailed(_ context.Context, id string, cause string, endDate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	action, ok := r.actions[id]
	if !ok || action.Status != domain.ActionStatusActive {
		return domain.ErrNotFound
	}
	action.Status = domain.ActionStatusFailed
	action.Error = cause
	action.EndDate = &endDate
	r.actions[id] = action
	return nil
}

func (r *fakeActionRepo) Cancel(_ context.Context, id string, endDate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	action, ok := r.actions[id]
	if !ok || action.Status != domain.ActionStatusCompleted {
		return domain.ErrNotFound
	}
	action.Status = domain.ActionStatusCanceled
	action.EndDate = &endDate
	r.actions[id] = action
	return nil
}

func (r *fakeActionRepo) ListCompletedByTransaction(_ context.Context, transactionID string, typeOf domain.AuthorizeActionType) ([]domain.AuthorizeAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuthorizeAction
	for _, action := range r.actions {
		if action.TransactionID == transactionID && action.TypeOf == typeOf && action.Status == domain.ActionStatusCompleted {
			out = append(out, action)
		}
	}
	return out, nil
}

type fakeSellerRepo struct {
	sellers map[string]domain.Seller
}

func (r *fakeSellerRepo) Get(_ context.Context, id string) (domain.Seller, error) {
	seller, ok := r.sellers[id]
	if !ok {
		return domain.Seller{}, domain.ErrNotFound
	}
	return seller, nil
}

type fakeCounterRepo struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeCounterRepo() *fakeCounterRepo {
	return &fakeCounterRepo{counts: map[string]int{}}
}

func (r *fakeCounterRepo) Increment(_ context.Context, scope string, unitFrom, _ time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := scope + unitFrom.Format(time.RFC3339)
	r.counts[key]++
	return r.counts[key], nil
}

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks []domain.Task
	// createErr fails the next CreateTasks call once.
	createErr error
}

func (r *fakeTaskRepo) CreateTasks(_ context.Context, tasks []domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		err := r.createErr
		r.createErr = nil
		return err
	}
	r.tasks = append(r.tasks, tasks...)
	return nil
}

func (r *fakeTaskRepo) snapshot() []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Task(nil), r.tasks...)
}

func (r *fakeTaskRepo) restore(tasks []domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = tasks
}

func (r *fakeTaskRepo) byName(name domain.TaskName) []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Task
	for _, t := range r.tasks {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

// fakeTxRunner mimics storage-transaction rollback over the in-memory
// fakes: any state fn wrote is restored when fn returns an error.
type fakeTxRunner struct {
	transactions *fakeTransactionRepo
	tasks        *fakeTaskRepo
}

func (r *fakeTxRunner) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	txSnapshot := r.transactions.snapshot()
	taskSnapshot := r.tasks.snapshot()
	if err := fn(ctx); err != nil {
		r.transactions.restore(txSnapshot)
		r.tasks.restore(taskSnapshot)
		return err
	}
	return nil
}

type fakeVerifier struct {
	err error
}

func (v fakeVerifier) Verify(token, sellerIdentifier string) (passport.Passport, error) {
	if v.err != nil {
		return passport.Passport{}, v.err
	}
	return passport.Passport{Scope: "placeOrderTransaction." + sellerIdentifier}, nil
}

type fakePerformanceRepo struct {
	performances map[string]domain.Performance
}

func (r *fakePerformanceRepo) Get(_ context.Context, id string) (domain.Performance, error) {
	perf, ok := r.performances[id]
	if !ok {
		return domain.Performance{}, domain.ErrNotFound
	}
	return perf, nil
}

type fakeOrderRepo struct {
	orders map[string]domain.Order
}

func (r *fakeOrderRepo) GetByOrderNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	order, ok := r.orders[orderNumber]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return order, nil
}

// fakeEngine is a scripted reservation engine: it serves a fixed
// availability view and records starts and cancels.
type fakeEngine struct {
	mu           sync.Mutex
	availability []reservation.SeatAvailability
	startErr     error
	startCount   int
	canceled     []string
	confirmed    []string
}

func (e *fakeEngine) Start(_ context.Context, _ string, seats []domain.Seat) (reservation.StartResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return reservation.StartResult{}, e.startErr
	}
	e.startCount++
	result := reservation.StartResult{TransactionID: fmt.Sprintf("engine-tx-%d", e.startCount)}
	for i, seat := range seats {
		result.Reservations = append(result.Reservations, reservation.Reservation{
			ID:   fmt.Sprintf("res-%d-%d", e.startCount, i),
			Seat: seat,
		})
	}
	return result, nil
}

func (e *fakeEngine) Confirm(_ context.Context, engineTransactionID string, _ []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirmed = append(e.confirmed, engineTransactionID)
	return nil
}

func (e *fakeEngine) Cancel(_ context.Context, engineTransactionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canceled = append(e.canceled, engineTransactionID)
	return nil
}

func (e *fakeEngine) SearchAvailability(_ context.Context, _ string) ([]reservation.SeatAvailability, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availability, nil
}
