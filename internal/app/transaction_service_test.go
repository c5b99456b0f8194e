package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/clock"
	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

var testSeller = domain.Seller{ID: "seller-1", Identifier: "TokyoTower", Name: "Tokyo Tower"}

func newTestTransactionService(now time.Time, opts ...TransactionServiceOption) (*TransactionService, *fakeTransactionRepo, *fakeActionRepo, *fakeTaskRepo) {
	txRepo := newFakeTransactionRepo()
	actionRepo := newFakeActionRepo()
	taskRepo := &fakeTaskRepo{}
	sellers := &fakeSellerRepo{sellers: map[string]domain.Seller{testSeller.ID: testSeller}}
	svc := NewTransactionService(txRepo, actionRepo, sellers, taskRepo, fakeVerifier{}, clock.NewFixed(now), opts...)
	return svc, txRepo, actionRepo, taskRepo
}

func startTestTransaction(t *testing.T, svc *TransactionService, now time.Time) domain.Transaction {
	t.Helper()
	tx, err := svc.Start(context.Background(), StartInput{
		SellerID:      testSeller.ID,
		AgentID:       "agent-1",
		Expires:       now.Add(15 * time.Minute),
		PassportToken: "token-" + newID(),
	})
	if err != nil {
		t.Fatalf("start transaction: %v", err)
	}
	return tx
}

func completeSeatAction(t *testing.T, actions *fakeActionRepo, txID string, price int64, now time.Time) domain.AuthorizeAction {
	t.Helper()
	action := domain.AuthorizeAction{
		ID:            newID(),
		TransactionID: txID,
		AgentID:       "agent-1",
		TypeOf:        domain.AuthorizeActionSeatReservation,
		Status:        domain.ActionStatusActive,
		SeatReservation: &domain.SeatReservationObject{
			PerformanceID:  "perf-1",
			PerformanceDay: "20260901",
		},
		StartDate: now,
	}
	if err := actions.Create(context.Background(), action); err != nil {
		t.Fatalf("create action: %v", err)
	}
	result := domain.SeatReservationResult{
		EngineTransactionID: "engine-tx-1",
		Reservations: []domain.TmpReservation{{
			PerformanceID:  "perf-1",
			SeatSection:    "A",
			SeatNumber:     "A-1",
			TicketTypeCode: "001",
			UnitPrice:      price,
			ReservationID:  "res-1",
		}},
		Price: price,
	}
	if err := actions.CompleteSeatReservation(context.Background(), action.ID, result, now); err != nil {
		t.Fatalf("complete action: %v", err)
	}
	action.Status = domain.ActionStatusCompleted
	action.SeatReservationResult = &result
	return action
}

func completeCreditCardAction(t *testing.T, actions *fakeActionRepo, txID string, amount int64, now time.Time) {
	t.Helper()
	action := domain.AuthorizeAction{
		ID:            newID(),
		TransactionID: txID,
		AgentID:       "agent-1",
		TypeOf:        domain.AuthorizeActionCreditCard,
		Status:        domain.ActionStatusActive,
		CreditCard:    &domain.CreditCardObject{OrderID: "TX123", Amount: amount},
		StartDate:     now,
	}
	if err := actions.Create(context.Background(), action); err != nil {
		t.Fatalf("create action: %v", err)
	}
	result := domain.CreditCardResult{AccessID: "acc-1", AccessPass: "pass-1", Amount: amount}
	if err := actions.CompleteCreditCard(context.Background(), action.ID, result, now); err != nil {
		t.Fatalf("complete action: %v", err)
	}
}

func setContact(t *testing.T, svc *TransactionService, txID string) {
	t.Helper()
	_, err := svc.SetCustomerContact(context.Background(), SetCustomerContactInput{
		AgentID:       "agent-1",
		TransactionID: txID,
		Contact: domain.CustomerContact{
			LastName:  "Yamada",
			FirstName: "Taro",
			Email:     "taro@example.com",
			Telephone: "09012345678",
		},
	})
	if err != nil {
		t.Fatalf("set customer contact: %v", err)
	}
}

func TestTransactionService_Start(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	t.Run("starts with a valid passport", func(t *testing.T) {
		svc, _, _, _ := newTestTransactionService(now)

		tx, err := svc.Start(context.Background(), StartInput{
			SellerID:      testSeller.ID,
			AgentID:       "agent-1",
			Expires:       now.Add(15 * time.Minute),
			PassportToken: "token-1",
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if tx.Status != domain.TransactionStatusInProgress {
			t.Fatalf("expected InProgress, got %s", tx.Status)
		}
		if tx.TasksExportationStatus != domain.TasksUnexported {
			t.Fatalf("expected Unexported, got %s", tx.TasksExportationStatus)
		}
		if tx.Seller != testSeller {
			t.Fatalf("expected seller snapshot, got %+v", tx.Seller)
		}
	})

	t.Run("replayed passport token is rejected", func(t *testing.T) {
		svc, _, _, _ := newTestTransactionService(now)

		in := StartInput{
			SellerID:      testSeller.ID,
			AgentID:       "agent-1",
			Expires:       now.Add(15 * time.Minute),
			PassportToken: "token-replayed",
		}
		if _, err := svc.Start(context.Background(), in); err != nil {
			t.Fatalf("first start: %v", err)
		}
		if _, err := svc.Start(context.Background(), in); !errors.Is(err, domain.ErrAlreadyInUse) {
			t.Fatalf("expected ErrAlreadyInUse, got %v", err)
		}
	})

	t.Run("invalid passport is rejected", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		sellers := &fakeSellerRepo{sellers: map[string]domain.Seller{testSeller.ID: testSeller}}
		svc := NewTransactionService(txRepo, newFakeActionRepo(), sellers, &fakeTaskRepo{},
			fakeVerifier{err: domain.ErrForbidden}, clock.NewFixed(now))

		_, err := svc.Start(context.Background(), StartInput{
			SellerID:      testSeller.ID,
			AgentID:       "agent-1",
			Expires:       now.Add(15 * time.Minute),
			PassportToken: "bad",
		})
		if !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		if len(txRepo.transactions) != 0 {
			t.Fatalf("expected no transaction created")
		}
	})

	t.Run("passportless start requires a counter and ceiling", func(t *testing.T) {
		svc, _, _, _ := newTestTransactionService(now)

		_, err := svc.Start(context.Background(), StartInput{
			SellerID: testSeller.ID,
			AgentID:  "agent-1",
			Expires:  now.Add(15 * time.Minute),
		})
		if !errors.Is(err, domain.ErrArgumentNull) {
			t.Fatalf("expected ErrArgumentNull, got %v", err)
		}
	})

	t.Run("passportless start throttles on the ceiling", func(t *testing.T) {
		svc, _, _, _ := newTestTransactionService(now, WithTransactionCounter(newFakeCounterRepo(), time.Hour))

		in := StartInput{
			SellerID:    testSeller.ID,
			AgentID:     "agent-1",
			Expires:     now.Add(15 * time.Minute),
			UnitCeiling: 2,
		}
		for i := 0; i < 2; i++ {
			if _, err := svc.Start(context.Background(), in); err != nil {
				t.Fatalf("start %d: %v", i, err)
			}
		}
		if _, err := svc.Start(context.Background(), in); !errors.Is(err, domain.ErrRateLimitExceeded) {
			t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
		}
	})

	t.Run("expiry must be in the future", func(t *testing.T) {
		svc, _, _, _ := newTestTransactionService(now)

		_, err := svc.Start(context.Background(), StartInput{
			SellerID:      testSeller.ID,
			AgentID:       "agent-1",
			Expires:       now,
			PassportToken: "token-x",
		})
		if !errors.Is(err, domain.ErrArgument) {
			t.Fatalf("expected ErrArgument, got %v", err)
		}
	})
}

func TestTransactionService_SetCustomerContact(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	t.Run("formats the telephone to E164", func(t *testing.T) {
		svc, txRepo, _, _ := newTestTransactionService(now)
		tx := startTestTransaction(t, svc, now)

		contact, err := svc.SetCustomerContact(context.Background(), SetCustomerContactInput{
			AgentID:       "agent-1",
			TransactionID: tx.ID,
			Contact: domain.CustomerContact{
				LastName:  "Yamada",
				FirstName: "Taro",
				Email:     "taro@example.com",
				Telephone: "090-1234-5678",
			},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if contact.Telephone != "+819012345678" {
			t.Fatalf("expected +819012345678, got %s", contact.Telephone)
		}

		stored, _ := txRepo.Get(context.Background(), tx.ID)
		if stored.Object.CustomerContact == nil || stored.Object.CustomerContact.Telephone != "+819012345678" {
			t.Fatalf("expected stored contact, got %+v", stored.Object.CustomerContact)
		}
	})

	t.Run("rejects an invalid telephone", func(t *testing.T) {
		svc, _, _, _ := newTestTransactionService(now)
		tx := startTestTransaction(t, svc, now)

		_, err := svc.SetCustomerContact(context.Background(), SetCustomerContactInput{
			AgentID:       "agent-1",
			TransactionID: tx.ID,
			Contact:       domain.CustomerContact{Telephone: "not-a-number"},
		})
		if !errors.Is(err, domain.ErrArgument) {
			t.Fatalf("expected ErrArgument, got %v", err)
		}
	})

	t.Run("another agent is forbidden", func(t *testing.T) {
		svc, _, _, _ := newTestTransactionService(now)
		tx := startTestTransaction(t, svc, now)

		_, err := svc.SetCustomerContact(context.Background(), SetCustomerContactInput{
			AgentID:       "intruder",
			TransactionID: tx.ID,
			Contact:       domain.CustomerContact{Telephone: "09012345678"},
		})
		if !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
}

func TestTransactionService_Confirm(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	t.Run("confirms when payment matches the reservation total", func(t *testing.T) {
		svc, txRepo, actions, _ := newTestTransactionService(now)
		tx := startTestTransaction(t, svc, now)
		setContact(t, svc, tx.ID)
		completeSeatAction(t, actions, tx.ID, 3000, now)
		completeCreditCardAction(t, actions, tx.ID, 3000, now)

		order, err := svc.Confirm(context.Background(), ConfirmInput{
			AgentID:       "agent-1",
			TransactionID: tx.ID,
			PaymentMethod: domain.PaymentMethodCreditCard,
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if order.Price != 3000 {
			t.Fatalf("expected price 3000, got %d", order.Price)
		}
		if !strings.HasPrefix(order.OrderNumber, "20260901-") || len(order.OrderNumber) != len("20260901-")+8 {
			t.Fatalf("unexpected order number %s", order.OrderNumber)
		}
		if order.PaymentOrderID != "TX123" {
			t.Fatalf("expected gateway order id carried, got %q", order.PaymentOrderID)
		}

		stored, _ := txRepo.Get(context.Background(), tx.ID)
		if stored.Status != domain.TransactionStatusConfirmed {
			t.Fatalf("expected Confirmed, got %s", stored.Status)
		}
		if stored.Result == nil || stored.Result.Order.OrderNumber != order.OrderNumber {
			t.Fatalf("expected result recorded")
		}
	})

	t.Run("amount mismatch leaves the transaction in progress", func(t *testing.T) {
		svc, txRepo, actions, _ := newTestTransactionService(now)
		tx := startTestTransaction(t, svc, now)
		setContact(t, svc, tx.ID)
		completeSeatAction(t, actions, tx.ID, 3000, now)
		completeCreditCardAction(t, actions, tx.ID, 2000, now)

		_, err := svc.Confirm(context.Background(), ConfirmInput{
			AgentID:       "agent-1",
			TransactionID: tx.ID,
			PaymentMethod: domain.PaymentMethodCreditCard,
		})
		if !errors.Is(err, domain.ErrArgument) {
			t.Fatalf("expected ErrArgument, got %v", err)
		}

		stored, _ := txRepo.Get(context.Background(), tx.ID)
		if stored.Status != domain.TransactionStatusInProgress {
			t.Fatalf("expected InProgress after failed confirm, got %s", stored.Status)
		}
		if stored.Result != nil {
			t.Fatalf("expected no result on failed confirm")
		}
	})

	t.Run("requires a customer contact", func(t *testing.T) {
		svc, _, actions, _ := newTestTransactionService(now)
		tx := startTestTransaction(t, svc, now)
		completeSeatAction(t, actions, tx.ID, 3000, now)

		_, err := svc.Confirm(context.Background(), ConfirmInput{
			AgentID:       "agent-1",
			TransactionID: tx.ID,
			PaymentMethod: domain.PaymentMethodCash,
		})
		if !errors.Is(err, domain.ErrArgumentNull) {
			t.Fatalf("expected ErrArgumentNull, got %v", err)
		}
	})

	t.Run("requires a completed seat authorization", func(t *testing.T) {
		svc, _, _, _ := newTestTransactionService(now)
		tx := startTestTransaction(t, svc, now)
		setContact(t, svc, tx.ID)

		_, err := svc.Confirm(context.Background(), ConfirmInput{
			AgentID:       "agent-1",
			TransactionID: tx.ID,
			PaymentMethod: domain.PaymentMethodCash,
		})
		if !errors.Is(err, domain.ErrArgument) {
			t.Fatalf("expected ErrArgument, got %v", err)
		}
	})

	t.Run("concurrent confirms produce exactly one winner", func(t *testing.T) {
		svc, txRepo, actions, _ := newTestTransactionService(now)
		tx := startTestTransaction(t, svc, now)
		setContact(t, svc, tx.ID)
		completeSeatAction(t, actions, tx.ID, 3000, now)

		const workers = 16
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.Confirm(context.Background(), ConfirmInput{
					AgentID:       "agent-1",
					TransactionID: tx.ID,
					PaymentMethod: domain.PaymentMethodCash,
				})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else if !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}

		stored, _ := txRepo.Get(context.Background(), tx.ID)
		if stored.Status != domain.TransactionStatusConfirmed {
			t.Fatalf("expected Confirmed, got %s", stored.Status)
		}
	})
}

func TestTransactionService_ExpireSweep(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.NewManual(now)
	txRepo := newFakeTransactionRepo()
	sellers := &fakeSellerRepo{sellers: map[string]domain.Seller{testSeller.ID: testSeller}}
	svc := NewTransactionService(txRepo, newFakeActionRepo(), sellers, &fakeTaskRepo{}, fakeVerifier{}, clk)

	tx := startTestTransaction(t, svc, now)

	n, err := svc.ExpireSweep(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected no expiries yet, got n=%d err=%v", n, err)
	}

	clk.Advance(16 * time.Minute)
	n, err = svc.ExpireSweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one expiry, got n=%d err=%v", n, err)
	}

	stored, _ := txRepo.Get(context.Background(), tx.ID)
	if stored.Status != domain.TransactionStatusExpired {
		t.Fatalf("expected Expired, got %s", stored.Status)
	}
}

func TestTransactionService_ExportTasks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	confirmTestTransaction := func(t *testing.T, svc *TransactionService, actions *fakeActionRepo) domain.Transaction {
		t.Helper()
		tx := startTestTransaction(t, svc, now)
		setContact(t, svc, tx.ID)
		completeSeatAction(t, actions, tx.ID, 3000, now)
		if _, err := svc.Confirm(context.Background(), ConfirmInput{
			AgentID:       "agent-1",
			TransactionID: tx.ID,
			PaymentMethod: domain.PaymentMethodCash,
		}); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		return tx
	}

	t.Run("confirmed transaction emits the settlement set", func(t *testing.T) {
		svc, txRepo, actions, tasks := newTestTransactionService(now)
		tx := confirmTestTransaction(t, svc, actions)

		claimed, err := svc.ExportTasks(context.Background(), domain.TransactionTypePlaceOrder, domain.TransactionStatusConfirmed)
		if err != nil {
			t.Fatalf("export: %v", err)
		}
		if claimed == nil || claimed.ID != tx.ID {
			t.Fatalf("expected claimed transaction %s", tx.ID)
		}

		want := []domain.TaskName{
			domain.TaskSettleSeatReservation,
			domain.TaskSettlePayment,
			domain.TaskPlaceOrder,
			domain.TaskAggregateSales,
			domain.TaskSendEmailNotification,
		}
		for _, name := range want {
			if len(tasks.byName(name)) != 1 {
				t.Fatalf("expected one %s task", name)
			}
		}

		stored, _ := txRepo.Get(context.Background(), tx.ID)
		if stored.TasksExportationStatus != domain.TasksExported {
			t.Fatalf("expected Exported, got %s", stored.TasksExportationStatus)
		}
		if stored.TasksExportedAt == nil {
			t.Fatalf("expected export timestamp")
		}
	})

	t.Run("tasks are exported at most once", func(t *testing.T) {
		svc, _, actions, tasks := newTestTransactionService(now)
		confirmTestTransaction(t, svc, actions)

		if _, err := svc.ExportTasks(context.Background(), domain.TransactionTypePlaceOrder, domain.TransactionStatusConfirmed); err != nil {
			t.Fatalf("first export: %v", err)
		}
		claimed, err := svc.ExportTasks(context.Background(), domain.TransactionTypePlaceOrder, domain.TransactionStatusConfirmed)
		if err != nil {
			t.Fatalf("second export: %v", err)
		}
		if claimed != nil {
			t.Fatalf("expected nothing to claim, got %s", claimed.ID)
		}
		if got := len(tasks.tasks); got != 5 {
			t.Fatalf("expected 5 tasks total, got %d", got)
		}
	})

	t.Run("expired transaction emits the cancellation set", func(t *testing.T) {
		now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
		clk := clock.NewManual(now)
		txRepo := newFakeTransactionRepo()
		sellers := &fakeSellerRepo{sellers: map[string]domain.Seller{testSeller.ID: testSeller}}
		tasks := &fakeTaskRepo{}
		svc := NewTransactionService(txRepo, newFakeActionRepo(), sellers, tasks, fakeVerifier{}, clk)

		startTestTransaction(t, svc, now)
		clk.Advance(16 * time.Minute)
		if _, err := svc.ExpireSweep(context.Background()); err != nil {
			t.Fatalf("sweep: %v", err)
		}

		claimed, err := svc.ExportTasks(context.Background(), domain.TransactionTypePlaceOrder, domain.TransactionStatusExpired)
		if err != nil {
			t.Fatalf("export: %v", err)
		}
		if claimed == nil {
			t.Fatalf("expected a claimed transaction")
		}
		if len(tasks.byName(domain.TaskCancelSeatReservation)) != 1 || len(tasks.byName(domain.TaskCancelPayment)) != 1 {
			t.Fatalf("expected cancellation tasks, got %+v", tasks.tasks)
		}
	})

	t.Run("nothing to claim is a no-op", func(t *testing.T) {
		svc, _, _, _ := newTestTransactionService(now)
		claimed, err := svc.ExportTasks(context.Background(), domain.TransactionTypePlaceOrder, domain.TransactionStatusConfirmed)
		if err != nil || claimed != nil {
			t.Fatalf("expected idle no-op, got tx=%v err=%v", claimed, err)
		}
	})

	t.Run("failed export leaves the transaction claimable", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		actionRepo := newFakeActionRepo()
		taskRepo := &fakeTaskRepo{createErr: errors.New("connection reset")}
		sellers := &fakeSellerRepo{sellers: map[string]domain.Seller{testSeller.ID: testSeller}}
		runner := &fakeTxRunner{transactions: txRepo, tasks: taskRepo}
		svc := NewTransactionService(txRepo, actionRepo, sellers, taskRepo, fakeVerifier{}, clock.NewFixed(now), WithAtomicExport(runner))

		tx := confirmTestTransaction(t, svc, actionRepo)

		if _, err := svc.ExportTasks(context.Background(), domain.TransactionTypePlaceOrder, domain.TransactionStatusConfirmed); err == nil {
			t.Fatalf("expected first export to fail")
		}

		stored, _ := txRepo.Get(context.Background(), tx.ID)
		if stored.TasksExportationStatus != domain.TasksUnexported {
			t.Fatalf("expected Unexported after rollback, got %s", stored.TasksExportationStatus)
		}
		if got := len(taskRepo.snapshot()); got != 0 {
			t.Fatalf("expected no tasks after rollback, got %d", got)
		}

		claimed, err := svc.ExportTasks(context.Background(), domain.TransactionTypePlaceOrder, domain.TransactionStatusConfirmed)
		if err != nil {
			t.Fatalf("retry export: %v", err)
		}
		if claimed == nil || claimed.ID != tx.ID {
			t.Fatalf("expected the retry to claim %s", tx.ID)
		}

		stored, _ = txRepo.Get(context.Background(), tx.ID)
		if stored.TasksExportationStatus != domain.TasksExported {
			t.Fatalf("expected Exported after retry, got %s", stored.TasksExportationStatus)
		}
		if got := len(taskRepo.snapshot()); got != 5 {
			t.Fatalf("expected 5 tasks after retry, got %d", got)
		}
	})
}
