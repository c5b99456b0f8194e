// Package reservation is the boundary adapter to the external seat
// reservation engine, the system of record for seat inventory. This core
// never assumes a seat is held until the engine's Start call succeeds.
package reservation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

// SeatAvailability is the engine's view of one seat, used only to
// pre-filter candidates; the Start call remains the final authority.
type SeatAvailability struct {
	Seat      domain.Seat `json:"seat"`
	Available bool        `json:"available"`
}

// Reservation is one per-seat hold inside an engine transaction.
type Reservation struct {
	ID   string      `json:"id"`
	Seat domain.Seat `json:"seat"`
}

// StartResult identifies the engine transaction holding the seats.
type StartResult struct {
	TransactionID string        `json:"transaction_id"`
	Reservations  []Reservation `json:"reservations"`
}

// Engine is the reservation engine contract consumed by the authorizer
// and the settlement/cancellation task handlers.
type Engine interface {
	Start(ctx context.Context, performanceID string, seats []domain.Seat) (StartResult, error)
	Confirm(ctx context.Context, engineTransactionID string, reservationIDs []string) error
	Cancel(ctx context.Context, engineTransactionID string) error
	SearchAvailability(ctx context.Context, performanceID string) ([]SeatAvailability, error)
}

// ClientConfig carries the engine endpoint; constructed once at process
// start and passed by reference.
type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type Client struct {
	endpoint string
	http     *http.Client
}

const defaultTimeout = 15 * time.Second

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("reservation engine endpoint: %w", domain.ErrServiceUnavailable)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

type startRequest struct {
	PerformanceID string        `json:"performance_id"`
	Seats         []domain.Seat `json:"seats"`
}

func (c *Client) Start(ctx context.Context, performanceID string, seats []domain.Seat) (StartResult, error) {
	var result StartResult
	err := c.post(ctx, "/transactions/start", startRequest{PerformanceID: performanceID, Seats: seats}, &result)
	if err != nil {
		return StartResult{}, fmt.Errorf("engine start: %w", err)
	}
	return result, nil
}

type confirmRequest struct {
	ReservationIDs []string `json:"reservation_ids"`
}

func (c *Client) Confirm(ctx context.Context, engineTransactionID string, reservationIDs []string) error {
	err := c.post(ctx, "/transactions/"+engineTransactionID+"/confirm", confirmRequest{ReservationIDs: reservationIDs}, nil)
	if err != nil {
		return fmt.Errorf("engine confirm: %w", err)
	}
	return nil
}

func (c *Client) Cancel(ctx context.Context, engineTransactionID string) error {
	err := c.post(ctx, "/transactions/"+engineTransactionID+"/cancel", struct{}{}, nil)
	if err != nil {
		return fmt.Errorf("engine cancel: %w", err)
	}
	return nil
}

func (c *Client) SearchAvailability(ctx context.Context, performanceID string) ([]SeatAvailability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/performances/"+performanceID+"/availability", nil)
	if err != nil {
		return nil, err
	}
	var out []SeatAvailability
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("engine availability: %w", err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrServiceUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode == http.StatusConflict {
		return domain.ErrAlreadyInUse
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("engine status %d: %s: %w", resp.StatusCode, bytes.TrimSpace(msg), domain.ErrServiceUnavailable)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
