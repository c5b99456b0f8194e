package domain

import "time"

type ActionStatus string

const (
	ActionStatusActive    ActionStatus = "ActiveActionStatus"
	ActionStatusCompleted ActionStatus = "CompletedActionStatus"
	ActionStatusFailed    ActionStatus = "FailedActionStatus"
	ActionStatusCanceled  ActionStatus = "CanceledActionStatus"
)

type AuthorizeActionType string

const (
	AuthorizeActionSeatReservation AuthorizeActionType = "SeatReservation"
	AuthorizeActionCreditCard      AuthorizeActionType = "CreditCard"
)

// RequestedOffer is one line of an authorize request: a ticket type and
// how many seats of it the purchaser wants.
type RequestedOffer struct {
	TicketTypeCode string
	Count          int
}

// SeatReservationObject captures what a seat-reservation authorize action
// asked for.
type SeatReservationObject struct {
	PerformanceID string
	// PerformanceDay in YYYYMMDD form; the order number derives from it.
	PerformanceDay string
	// PerformanceStartsAt feeds the admission rate-limit bucket and the
	// return-order cancellation window.
	PerformanceStartsAt time.Time
	Offers              []RequestedOffer
}

// TmpReservation is one seat held by a completed authorize action,
// pending transaction confirmation.
type TmpReservation struct {
	PerformanceID  string
	SeatSection    string
	SeatNumber     string
	TicketTypeCode string
	// UnitPrice in minor units; zero for extra buffer seats.
	UnitPrice int64
	// ReservationID is the reservation engine's per-seat identifier.
	ReservationID string
	// ExtraSeat marks a zero-priced standard seat reserved as a capacity
	// buffer next to a wheelchair seat.
	ExtraSeat bool
}

// SeatReservationResult is set only when the action completed. It keeps
// the engine transaction id needed to later confirm or cancel the hold.
type SeatReservationResult struct {
	EngineTransactionID string
	Reservations        []TmpReservation
	// Price is the summed unit price of all reservations, minor units.
	Price int64
}

// CreditCardObject captures a payment authorize request.
type CreditCardObject struct {
	OrderID string
	// Amount in minor units.
	Amount int64
	Method PaymentMethod
}

// CreditCardResult holds the gateway access credentials returned by a
// completed payment authorization.
type CreditCardResult struct {
	AccessID   string
	AccessPass string
	// Amount authorized, minor units.
	Amount int64
}

// AuthorizeAction is a provisional, revocable grant owned by exactly one
// transaction.
type AuthorizeAction struct {
	ID            string
	TransactionID string
	AgentID       string
	TypeOf        AuthorizeActionType
	Status        ActionStatus

	SeatReservation       *SeatReservationObject
	SeatReservationResult *SeatReservationResult
	CreditCard            *CreditCardObject
	CreditCardResult      *CreditCardResult

	// Error holds the captured failure message for Failed actions.
	Error     string
	StartDate time.Time
	EndDate   *time.Time
}
