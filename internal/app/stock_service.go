package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/clock"
	"github.com/tokyo-tower/domain-sub000/internal/domain"
	"github.com/tokyo-tower/domain-sub000/internal/ratelimit"
	"github.com/tokyo-tower/domain-sub000/internal/reservation"
)

type PerformanceRepository interface {
	Get(ctx context.Context, id string) (domain.Performance, error)
}

// StockServiceConfig holds the authorizer's tunables. ExtraSeatCount is
// the standard-seat capacity buffer reserved alongside a rate-limited
// seat; it is policy, not inventory, so it lives in configuration.
type StockServiceConfig struct {
	ExtraSeatCount int
	RateLimitUnit  time.Duration
}

const defaultRateLimitUnit = time.Hour

// StockService authorizes seat reservations for a transaction: it picks
// candidate seats, throttles scarce categories through the rate limiter
// and brokers the reservation engine's own transaction.
type StockService struct {
	transactions TransactionRepository
	actions      AuthorizeActionRepository
	performances PerformanceRepository
	engine       reservation.Engine
	limiter      *ratelimit.Limiter
	tasks        TaskRepository
	clock        clock.Clock
	cfg          StockServiceConfig
	logger       *log.Logger
}

func NewStockService(
	transactions TransactionRepository,
	actions AuthorizeActionRepository,
	performances PerformanceRepository,
	engine reservation.Engine,
	limiter *ratelimit.Limiter,
	tasks TaskRepository,
	clk clock.Clock,
	cfg StockServiceConfig,
	logger *log.Logger,
) *StockService {
	if cfg.RateLimitUnit <= 0 {
		cfg.RateLimitUnit = defaultRateLimitUnit
	}
	if logger == nil {
		logger = log.Default()
	}
	return &StockService{
		transactions: transactions,
		actions:      actions,
		performances: performances,
		engine:       engine,
		limiter:      limiter,
		tasks:        tasks,
		clock:        clk,
		cfg:          cfg,
		logger:       logger,
	}
}

type AuthorizeInput struct {
	AgentID       string
	TransactionID string
	PerformanceID string
	Offers        []domain.RequestedOffer
}

// selection is one seat chosen before the engine call, with its price.
type selection struct {
	seat      domain.Seat
	ticket    domain.TicketType
	unitPrice int64
	extra     bool
}

// Authorize reserves seats for the requested offers. A failure after the
// action record exists rolls back every side effect (engine transaction,
// rate-limit locks) before returning the original error, so the caller
// retries with a fresh call instead of relying on queue retry.
func (s *StockService) Authorize(ctx context.Context, in AuthorizeInput) (domain.AuthorizeAction, error) {
	tx, err := s.ownedInProgress(ctx, in.AgentID, in.TransactionID)
	if err != nil {
		return domain.AuthorizeAction{}, err
	}
	if len(in.Offers) == 0 {
		return domain.AuthorizeAction{}, fmt.Errorf("requested offers: %w", domain.ErrArgumentNull)
	}

	perf, err := s.performances.Get(ctx, in.PerformanceID)
	if err != nil {
		return domain.AuthorizeAction{}, fmt.Errorf("performance %s: %w", in.PerformanceID, err)
	}

	selections, limitedCategories, err := s.selectSeats(ctx, perf, in.Offers)
	if err != nil {
		return domain.AuthorizeAction{}, err
	}

	now := s.clock.Now()
	action := domain.AuthorizeAction{
		ID:            newID(),
		TransactionID: tx.ID,
		AgentID:       in.AgentID,
		TypeOf:        domain.AuthorizeActionSeatReservation,
		Status:        domain.ActionStatusActive,
		SeatReservation: &domain.SeatReservationObject{
			PerformanceID:       perf.ID,
			PerformanceDay:      perf.Day,
			PerformanceStartsAt: perf.StartsAt,
			Offers:              in.Offers,
		},
		StartDate: now,
	}
	if err := s.actions.Create(ctx, action); err != nil {
		return domain.AuthorizeAction{}, fmt.Errorf("create authorize action: %w", err)
	}

	var acquired []ratelimit.Key
	var engineTxID string
	fail := func(cause error) (domain.AuthorizeAction, error) {
		s.rollback(ctx, action.ID, engineTxID, acquired, tx.ID, cause)
		return domain.AuthorizeAction{}, cause
	}

	for _, category := range limitedCategories {
		key := s.rateLimitKey(category, perf)
		if err := s.limiter.Lock(ctx, key, tx.ID); err != nil {
			return fail(err)
		}
		acquired = append(acquired, key)
	}

	seats := make([]domain.Seat, 0, len(selections))
	for _, sel := range selections {
		seats = append(seats, sel.seat)
	}
	started, err := s.engine.Start(ctx, perf.ID, seats)
	if err != nil {
		return fail(fmt.Errorf("start reservation: %w", err))
	}
	engineTxID = started.TransactionID

	result, err := buildResult(perf.ID, started, selections)
	if err != nil {
		return fail(err)
	}

	endDate := s.clock.Now()
	if err := s.actions.CompleteSeatReservation(ctx, action.ID, result, endDate); err != nil {
		return fail(fmt.Errorf("complete authorize action: %w", err))
	}

	// Seat-count accounting is eventually consistent; the engine's own
	// inventory update is asynchronous too.
	if task, err := NewAggregateTask(perf.ID, endDate); err == nil {
		if err := s.tasks.CreateTasks(ctx, []domain.Task{task}); err != nil {
			s.logger.Printf("WARN: enqueue aggregate task performance=%s: %v", perf.ID, err)
		}
	}

	action.Status = domain.ActionStatusCompleted
	action.SeatReservationResult = &result
	action.EndDate = &endDate
	return action, nil
}

type CancelSeatReservationInput struct {
	AgentID       string
	TransactionID string
	ActionID      string
}

// CancelSeatReservation revokes a completed authorization: the action
// flips to Canceled, the engine hold is released and the transaction's
// rate-limit locks are freed.
func (s *StockService) CancelSeatReservation(ctx context.Context, in CancelSeatReservationInput) error {
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

	// The retained result drives the rollback.
	if res := action.SeatReservationResult; res != nil && res.EngineTransactionID != "" {
		if err := s.engine.Cancel(ctx, res.EngineTransactionID); err != nil {
			s.logger.Printf("WARN: cancel engine transaction %s: %v", res.EngineTransactionID, err)
		}
	}
	s.releaseLocks(ctx, action, tx.ID)

	if obj := action.SeatReservation; obj != nil {
		if task, err := NewAggregateTask(obj.PerformanceID, s.clock.Now()); err == nil {
			if err := s.tasks.CreateTasks(ctx, []domain.Task{task}); err != nil {
				s.logger.Printf("WARN: enqueue aggregate task performance=%s: %v", obj.PerformanceID, err)
			}
		}
	}
	return nil
}

// selectSeats resolves each offer against the catalog and picks concrete
// seats from the engine's availability view. Rate-limited categories draw
// from their own seating pool; everything else draws from standard seats.
func (s *StockService) selectSeats(ctx context.Context, perf domain.Performance, offers []domain.RequestedOffer) ([]selection, []string, error) {
	availability, err := s.engine.SearchAvailability(ctx, perf.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("search availability: %w", err)
	}

	pools := map[domain.SeatingType][]domain.Seat{}
	for _, a := range availability {
		if a.Available {
			pools[a.Seat.SeatingType] = append(pools[a.Seat.SeatingType], a.Seat)
		}
	}

	var selections []selection
	var limitedCategories []string
	seenCategories := map[string]bool{}
	needsExtras := false

	for _, offer := range offers {
		ticket, ok := perf.OfferByCode(offer.TicketTypeCode)
		if !ok {
			return nil, nil, fmt.Errorf("ticket type %s not in catalog: %w", offer.TicketTypeCode, domain.ErrArgument)
		}
		if offer.Count <= 0 {
			return nil, nil, fmt.Errorf("offer count for %s: %w", offer.TicketTypeCode, domain.ErrArgument)
		}

		seatingType := domain.SeatingTypeNormal
		if ticket.SeatingType == domain.SeatingTypeWheelchair {
			seatingType = domain.SeatingTypeWheelchair
		}
		if ticket.RateLimited {
			needsExtras = true
			if !seenCategories[string(ticket.SeatingType)] {
				seenCategories[string(ticket.SeatingType)] = true
				limitedCategories = append(limitedCategories, string(ticket.SeatingType))
			}
		}

		for i := 0; i < offer.Count; i++ {
			seat, ok := takeSeat(pools, seatingType)
			if !ok {
				return nil, nil, fmt.Errorf("no available %s seat for %s: %w", seatingType, offer.TicketTypeCode, domain.ErrNotFound)
			}
			selections = append(selections, selection{seat: seat, ticket: ticket, unitPrice: ticket.Charge})
		}
	}

	if needsExtras {
		for i := 0; i < s.cfg.ExtraSeatCount; i++ {
			seat, ok := takeSeat(pools, domain.SeatingTypeNormal)
			if !ok {
				break
			}
			selections = append(selections, selection{seat: seat, unitPrice: 0, extra: true})
		}
	}
	return selections, limitedCategories, nil
}

func takeSeat(pools map[domain.SeatingType][]domain.Seat, st domain.SeatingType) (domain.Seat, bool) {
	pool := pools[st]
	if len(pool) == 0 {
		return domain.Seat{}, false
	}
	seat := pool[0]
	pools[st] = pool[1:]
	return seat, true
}

func buildResult(performanceID string, started reservation.StartResult, selections []selection) (domain.SeatReservationResult, error) {
	bySeat := map[string]reservation.Reservation{}
	for _, r := range started.Reservations {
		bySeat[r.Seat.Section+"/"+r.Seat.Number] = r
	}

	result := domain.SeatReservationResult{EngineTransactionID: started.TransactionID}
	for _, sel := range selections {
		engineRes, ok := bySeat[sel.seat.Section+"/"+sel.seat.Number]
		if !ok {
			return domain.SeatReservationResult{}, fmt.Errorf("engine did not reserve seat %s/%s: %w",
				sel.seat.Section, sel.seat.Number, domain.ErrServiceUnavailable)
		}
		result.Reservations = append(result.Reservations, domain.TmpReservation{
			PerformanceID:  performanceID,
			SeatSection:    sel.seat.Section,
			SeatNumber:     sel.seat.Number,
			TicketTypeCode: sel.ticket.Code,
			UnitPrice:      sel.unitPrice,
			ReservationID:  engineRes.ID,
			ExtraSeat:      sel.extra,
		})
		result.Price += sel.unitPrice
	}
	return result, nil
}

// rollback undoes a failed authorization. Best-effort: failures here are
// logged, never returned, because the primary error dominates.
func (s *StockService) rollback(ctx context.Context, actionID, engineTxID string, acquired []ratelimit.Key, holder string, cause error) {
	if err := s.actions.MarkFailed(ctx, actionID, cause.Error(), s.clock.Now()); err != nil {
		s.logger.Printf("WARN: mark action %s failed: %v", actionID, err)
	}
	if engineTxID != "" {
		if err := s.engine.Cancel(ctx, engineTxID); err != nil {
			s.logger.Printf("WARN: cancel engine transaction %s: %v", engineTxID, err)
		}
	}
	for _, key := range acquired {
		if err := s.limiter.Unlock(ctx, key, holder); err != nil {
			s.logger.Printf("WARN: release rate limit %s: %v", key, err)
		}
	}
}

func (s *StockService) releaseLocks(ctx context.Context, action domain.AuthorizeAction, holder string) {
	obj := action.SeatReservation
	if obj == nil {
		return
	}
	perf, err := s.performances.Get(ctx, obj.PerformanceID)
	if err != nil {
		s.logger.Printf("WARN: load performance %s for lock release: %v", obj.PerformanceID, err)
		return
	}
	perf.StartsAt = obj.PerformanceStartsAt
	seen := map[string]bool{}
	for _, offer := range obj.Offers {
		ticket, ok := perf.OfferByCode(offer.TicketTypeCode)
		if !ok || !ticket.RateLimited || seen[string(ticket.SeatingType)] {
			continue
		}
		seen[string(ticket.SeatingType)] = true
		key := s.rateLimitKey(string(ticket.SeatingType), perf)
		if err := s.limiter.Unlock(ctx, key, holder); err != nil {
			s.logger.Printf("WARN: release rate limit %s: %v", key, err)
		}
	}
}

func (s *StockService) rateLimitKey(category string, perf domain.Performance) ratelimit.Key {
	return ratelimit.Key{
		TicketTypeCategory:  category,
		PerformanceStartsAt: perf.StartsAt,
		Unit:                s.cfg.RateLimitUnit,
	}
}

func (s *StockService) ownedInProgress(ctx context.Context, agentID, transactionID string) (domain.Transaction, error) {
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
