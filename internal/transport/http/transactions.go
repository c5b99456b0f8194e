package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/app"
	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

const agentHeader = "X-Agent-ID"

// TransactionFlow is the minimal interface the place-order endpoints
// need from the transaction service.
type TransactionFlow interface {
	Start(ctx context.Context, in app.StartInput) (domain.Transaction, error)
	SetCustomerContact(ctx context.Context, in app.SetCustomerContactInput) (domain.CustomerContact, error)
	Confirm(ctx context.Context, in app.ConfirmInput) (domain.Order, error)
}

// SeatAuthorizer is the minimal interface for seat authorize actions.
type SeatAuthorizer interface {
	Authorize(ctx context.Context, in app.AuthorizeInput) (domain.AuthorizeAction, error)
	CancelSeatReservation(ctx context.Context, in app.CancelSeatReservationInput) error
}

// PaymentAuthorizer is the minimal interface for payment authorize
// actions.
type PaymentAuthorizer interface {
	Authorize(ctx context.Context, in app.AuthorizePaymentInput) (domain.AuthorizeAction, error)
	Cancel(ctx context.Context, in app.CancelPaymentInput) error
}

// PlaceOrderRoutes dispatches everything under /transactions/placeOrder/.
func PlaceOrderRoutes(flow TransactionFlow, seats SeatAuthorizer, payments PaymentAuthorizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest, ok := strings.CutPrefix(r.URL.Path, "/transactions/placeOrder/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		segments := strings.Split(strings.Trim(rest, "/"), "/")

		switch {
		case len(segments) == 1 && segments[0] == "start":
			handleStart(flow, w, r)
		case len(segments) == 2 && segments[1] == "customerContact":
			handleSetCustomerContact(flow, segments[0], w, r)
		case len(segments) == 2 && segments[1] == "confirm":
			handleConfirm(flow, segments[0], w, r)
		case len(segments) == 4 && segments[1] == "actions" && segments[2] == "authorize" && segments[3] == "seatReservation":
			handleAuthorizeSeats(seats, segments[0], w, r)
		case len(segments) == 5 && segments[1] == "actions" && segments[2] == "authorize" && segments[3] == "seatReservation":
			handleCancelSeats(seats, segments[0], segments[4], w, r)
		case len(segments) == 4 && segments[1] == "actions" && segments[2] == "authorize" && segments[3] == "creditCard":
			handleAuthorizePayment(payments, segments[0], w, r)
		case len(segments) == 5 && segments[1] == "actions" && segments[2] == "authorize" && segments[3] == "creditCard":
			handleCancelPayment(payments, segments[0], segments[4], w, r)
		default:
			http.NotFound(w, r)
		}
	}
}

type startTransactionRequest struct {
	SellerID       string `json:"seller_id"`
	Expires        string `json:"expires"`
	PurchaserGroup string `json:"purchaser_group"`
	PassportToken  string `json:"passport_token"`
	UnitCeiling    int    `json:"unit_ceiling"`
}

type startTransactionResponse struct {
	ID      string    `json:"id"`
	Status  string    `json:"status"`
	Expires time.Time `json:"expires"`
}

func handleStart(flow TransactionFlow, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startTransactionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeArgument, "invalid request body")
		return
	}
	expires, err := time.Parse(time.RFC3339, req.Expires)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeArgument, "expires must be RFC 3339")
		return
	}

	tx, err := flow.Start(r.Context(), app.StartInput{
		SellerID:       req.SellerID,
		AgentID:        r.Header.Get(agentHeader),
		Expires:        expires,
		PurchaserGroup: req.PurchaserGroup,
		PassportToken:  req.PassportToken,
		UnitCeiling:    req.UnitCeiling,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, startTransactionResponse{
		ID:      tx.ID,
		Status:  string(tx.Status),
		Expires: tx.Expires,
	})
}

type customerContactRequest struct {
	LastName  string `json:"last_name"`
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Telephone string `json:"tel"`
}

func handleSetCustomerContact(flow TransactionFlow, transactionID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req customerContactRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeArgument, "invalid request body")
		return
	}

	contact, err := flow.SetCustomerContact(r.Context(), app.SetCustomerContactInput{
		AgentID:       r.Header.Get(agentHeader),
		TransactionID: transactionID,
		Contact: domain.CustomerContact{
			LastName:  req.LastName,
			FirstName: req.FirstName,
			Email:     req.Email,
			Telephone: req.Telephone,
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, customerContactRequest{
		LastName:  contact.LastName,
		FirstName: contact.FirstName,
		Email:     contact.Email,
		Telephone: contact.Telephone,
	})
}

type confirmTransactionRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type confirmTransactionResponse struct {
	OrderNumber        string `json:"order_number"`
	ConfirmationNumber int64  `json:"confirmation_number"`
	Price              int64  `json:"price"`
	PaymentMethod      string `json:"payment_method"`
}

func handleConfirm(flow TransactionFlow, transactionID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req confirmTransactionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeArgument, "invalid request body")
		return
	}

	order, err := flow.Confirm(r.Context(), app.ConfirmInput{
		AgentID:       r.Header.Get(agentHeader),
		TransactionID: transactionID,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, confirmTransactionResponse{
		OrderNumber:        order.OrderNumber,
		ConfirmationNumber: order.ConfirmationNumber,
		Price:              order.Price,
		PaymentMethod:      string(order.PaymentMethod),
	})
}
