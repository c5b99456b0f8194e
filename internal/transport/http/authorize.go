package http

import (
	"encoding/json"
	"net/http"

	"github.com/tokyo-tower/domain-sub000/internal/app"
	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

type authorizeSeatsRequest struct {
	PerformanceID string `json:"performance_id"`
	Offers        []struct {
		TicketTypeCode string `json:"ticket_type_code"`
		Count          int    `json:"count"`
	} `json:"offers"`
}

type authorizeSeatsResponse struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Price        int64             `json:"price"`
	Reservations []seatReservation `json:"reservations"`
}

type seatReservation struct {
	SeatSection    string `json:"seat_section"`
	SeatNumber     string `json:"seat_number"`
	TicketTypeCode string `json:"ticket_type_code"`
	UnitPrice      int64  `json:"unit_price"`
	ExtraSeat      bool   `json:"extra_seat,omitempty"`
}

func handleAuthorizeSeats(svc SeatAuthorizer, transactionID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req authorizeSeatsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeArgument, "invalid request body")
		return
	}

	offers := make([]domain.RequestedOffer, 0, len(req.Offers))
	for _, o := range req.Offers {
		offers = append(offers, domain.RequestedOffer{TicketTypeCode: o.TicketTypeCode, Count: o.Count})
	}

	action, err := svc.Authorize(r.Context(), app.AuthorizeInput{
		AgentID:       r.Header.Get(agentHeader),
		TransactionID: transactionID,
		PerformanceID: req.PerformanceID,
		Offers:        offers,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := authorizeSeatsResponse{
		ID:     action.ID,
		Status: string(action.Status),
	}
	if res := action.SeatReservationResult; res != nil {
		resp.Price = res.Price
		for _, tr := range res.Reservations {
			resp.Reservations = append(resp.Reservations, seatReservation{
				SeatSection:    tr.SeatSection,
				SeatNumber:     tr.SeatNumber,
				TicketTypeCode: tr.TicketTypeCode,
				UnitPrice:      tr.UnitPrice,
				ExtraSeat:      tr.ExtraSeat,
			})
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func handleCancelSeats(svc SeatAuthorizer, transactionID, actionID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := svc.CancelSeatReservation(r.Context(), app.CancelSeatReservationInput{
		AgentID:       r.Header.Get(agentHeader),
		TransactionID: transactionID,
		ActionID:      actionID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type authorizePaymentRequest struct {
	Amount    int64  `json:"amount"`
	CardToken string `json:"card_token"`
}

type authorizePaymentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

func handleAuthorizePayment(svc PaymentAuthorizer, transactionID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req authorizePaymentRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeArgument, "invalid request body")
		return
	}

	action, err := svc.Authorize(r.Context(), app.AuthorizePaymentInput{
		AgentID:       r.Header.Get(agentHeader),
		TransactionID: transactionID,
		Amount:        req.Amount,
		CardToken:     req.CardToken,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := authorizePaymentResponse{ID: action.ID, Status: string(action.Status)}
	if action.CreditCardResult != nil {
		resp.Amount = action.CreditCardResult.Amount
	}
	writeJSON(w, http.StatusCreated, resp)
}

func handleCancelPayment(svc PaymentAuthorizer, transactionID, actionID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := svc.Cancel(r.Context(), app.CancelPaymentInput{
		AgentID:       r.Header.Get(agentHeader),
		TransactionID: transactionID,
		ActionID:      actionID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
