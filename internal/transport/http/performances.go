package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

// PerformanceAdmin is the minimal interface for catalog administration.
type PerformanceAdmin interface {
	Create(ctx context.Context, perf domain.Performance) error
}

// AvailabilityReader serves the cached aggregated seat count; a stale or
// absent entry reads as domain.ErrNotFound.
type AvailabilityReader interface {
	Get(ctx context.Context, performanceID string) (int, error)
}

type createPerformanceRequest struct {
	ID          string `json:"id"`
	EventID     string `json:"event_id"`
	Day         string `json:"day"`
	StartsAt    string `json:"starts_at"`
	EndsAt      string `json:"ends_at"`
	TicketTypes []struct {
		Code        string `json:"code"`
		Name        string `json:"name"`
		Charge      int64  `json:"charge"`
		SeatingType string `json:"seating_type"`
		RateLimited bool   `json:"rate_limited"`
	} `json:"ticket_types"`
}

// HandleCreatePerformance registers one performance with its offer
// catalog.
func HandleCreatePerformance(svc PerformanceAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req createPerformanceRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeArgument, "invalid request body")
			return
		}
		if req.ID == "" || req.Day == "" {
			writeError(w, http.StatusBadRequest, codeArgumentNull, "id and day are required")
			return
		}
		startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeArgument, "starts_at must be RFC 3339")
			return
		}
		endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeArgument, "ends_at must be RFC 3339")
			return
		}

		perf := domain.Performance{
			ID:       req.ID,
			EventID:  req.EventID,
			Day:      req.Day,
			StartsAt: startsAt,
			EndsAt:   endsAt,
		}
		for _, tt := range req.TicketTypes {
			perf.TicketTypes = append(perf.TicketTypes, domain.TicketType{
				Code:        tt.Code,
				Name:        tt.Name,
				Charge:      tt.Charge,
				SeatingType: domain.SeatingType(tt.SeatingType),
				RateLimited: tt.RateLimited,
			})
		}

		if err := svc.Create(r.Context(), perf); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

type availabilityResponse struct {
	PerformanceID  string `json:"performance_id"`
	AvailableSeats int    `json:"available_seats"`
}

// HandleAvailability serves GET /performances/{id}/availability.
func HandleAvailability(reader AvailabilityReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		rest, ok := strings.CutPrefix(r.URL.Path, "/performances/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		id, tail, ok := strings.Cut(rest, "/")
		if !ok || id == "" || tail != "availability" {
			http.NotFound(w, r)
			return
		}

		seats, err := reader.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, availabilityResponse{
			PerformanceID:  id,
			AvailableSeats: seats,
		})
	}
}
