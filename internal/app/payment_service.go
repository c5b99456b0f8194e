package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tokyo-tower/domain-sub000/internal/clock"
	"github.com/tokyo-tower/domain-sub000/internal/domain"
	"github.com/tokyo-tower/domain-sub000/internal/payment"
)

// PaymentService owns the credit-card authorize action: a gateway AUTH
// hold created during the transaction and settled or voided by tasks
// after the transaction terminates.
type PaymentService struct {
	transactions TransactionRepository
	actions      AuthorizeActionRepository
	gateway      payment.Gateway
	clock        clock.Clock
	logger       *log.Logger
}

func NewPaymentService(
	transactions TransactionRepository,
	actions AuthorizeActionRepository,
	gateway payment.Gateway,
	clk clock.Clock,
	logger *log.Logger,
) *PaymentService {
	if logger == nil {
		logger = log.Default()
	}
	return &PaymentService{
		transactions: transactions,
		actions:      actions,
		gateway:      gateway,
		clock:        clk,
		logger:       logger,
	}
}

type AuthorizePaymentInput struct {
	AgentID       string
	TransactionID string
	// Amount in minor units.
	Amount    int64
	CardToken string
}

// Authorize places an AUTH hold for the amount. The gateway order id is
// derived from the transaction so a retried call maps to the same trade.
func (s *PaymentService) Authorize(ctx context.Context, in AuthorizePaymentInput) (domain.AuthorizeAction, error) {
	tx, err := s.ownedInProgress(ctx, in.AgentID, in.TransactionID)
	if err != nil {
		return domain.AuthorizeAction{}, err
	}
	if in.Amount <= 0 {
		return domain.AuthorizeAction{}, fmt.Errorf("amount %d: %w", in.Amount, domain.ErrArgument)
	}
	if in.CardToken == "" {
		return domain.AuthorizeAction{}, fmt.Errorf("card token: %w", domain.ErrArgumentNull)
	}

	now := s.clock.Now()
	orderID := gatewayOrderID(tx.ID)
	action := domain.AuthorizeAction{
		ID:            newID(),
		TransactionID: tx.ID,
		AgentID:       in.AgentID,
		TypeOf:        domain.AuthorizeActionCreditCard,
		Status:        domain.ActionStatusActive,
		CreditCard: &domain.CreditCardObject{
			OrderID: orderID,
			Amount:  in.Amount,
			Method:  domain.PaymentMethodCreditCard,
		},
		StartDate: now,
	}
	if err := s.actions.Create(ctx, action); err != nil {
		return domain.AuthorizeAction{}, fmt.Errorf("create authorize action: %w", err)
	}

	entered, err := s.gateway.EntryTran(ctx, orderID, payment.JobCdAuth, in.Amount)
	if err != nil {
		s.markFailed(ctx, action.ID, err)
		return domain.AuthorizeAction{}, err
	}
	if err := s.gateway.ExecTran(ctx, entered, orderID, in.CardToken); err != nil {
		// Void the entry so no dangling AUTH survives a failed exec.
		if alterErr := s.gateway.AlterTran(ctx, entered, payment.JobCdVoid, in.Amount); alterErr != nil {
			s.logger.Printf("WARN: void after failed exec order=%s: %v", orderID, alterErr)
		}
		s.markFailed(ctx, action.ID, err)
		return domain.AuthorizeAction{}, err
	}

	result := domain.CreditCardResult{
		AccessID:   entered.AccessID,
		AccessPass: entered.AccessPass,
		Amount:     in.Amount,
	}
	endDate := s.clock.Now()
	if err := s.actions.CompleteCreditCard(ctx, action.ID, result, endDate); err != nil {
		return domain.AuthorizeAction{}, fmt.Errorf("complete authorize action: %w", err)
	}

	action.Status = domain.ActionStatusCompleted
	action.CreditCardResult = &result
	action.EndDate = &endDate
	return action, nil
}

type CancelPaymentInput struct {
	AgentID       string
	TransactionID string
	ActionID      string
}

// Cancel voids a completed AUTH hold and flips the action to Canceled.
func (s *PaymentService) Cancel(ctx context.Context, in CancelPaymentInput) error {
	tx, err := s.ownedInProgress(ctx, in.AgentID, in.TransactionID)
	if err != nil {
		return err
	}

	action, err := s.actions.Get(ctx, in.ActionID)
	if err != nil {
		return fmt.Errorf("authorize action %s: %w", in.ActionID, err)
	}
	if action.TransactionID != tx.ID {
		return fmt.Errorf("action %s belongs to another transaction: %w", in.ActionID, domain.ErrForbidden)
	}

	if err := s.actions.Cancel(ctx, in.ActionID, s.clock.Now()); err != nil {
		return fmt.Errorf("cancel authorize action: %w", err)
	}

	if res := action.CreditCardResult; res != nil {
		access := payment.TranResult{AccessID: res.AccessID, AccessPass: res.AccessPass}
		if err := s.gateway.AlterTran(ctx, access, payment.JobCdVoid, res.Amount); err != nil {
			s.logger.Printf("WARN: void payment authorization action=%s: %v", in.ActionID, err)
		}
	}
	return nil
}

func (s *PaymentService) markFailed(ctx context.Context, actionID string, cause error) {
	if err := s.actions.MarkFailed(ctx, actionID, cause.Error(), s.clock.Now()); err != nil {
		s.logger.Printf("WARN: mark action %s failed: %v", actionID, err)
	}
}

func (s *PaymentService) ownedInProgress(ctx context.Context, agentID, transactionID string) (domain.Transaction, error) {
	tx, err := s.transactions.Get(ctx, transactionID)
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

// gatewayOrderID keys the gateway trade to the transaction. The gateway
// caps order ids at 27 characters.
func gatewayOrderID(transactionID string) string {
	token := strings.ReplaceAll(transactionID, "-", "")
	if len(token) > 25 {
		token = token[:25]
	}
	return "TX" + token
}
