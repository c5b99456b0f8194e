package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tokyo-tower/domain-sub000/internal/app"
	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

// ReturnConfirmer is the minimal interface the return endpoint needs.
type ReturnConfirmer interface {
	Confirm(ctx context.Context, in app.ConfirmReturnInput) (domain.Transaction, error)
}

type returnOrderRequest struct {
	OrderNumber string `json:"order_number"`
	Forcibly    bool   `json:"forcibly"`
}

type returnOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HandleConfirmReturn opens and confirms a return-order transaction.
func HandleConfirmReturn(svc ReturnConfirmer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req returnOrderRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeArgument, "invalid request body")
			return
		}

		tx, err := svc.Confirm(r.Context(), app.ConfirmReturnInput{
			AgentID:     r.Header.Get(agentHeader),
			OrderNumber: req.OrderNumber,
			Forcibly:    req.Forcibly,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, returnOrderResponse{
			ID:     tx.ID,
			Status: string(tx.Status),
		})
	}
}
