package domain

import "time"

type SeatingType string

const (
	SeatingTypeNormal     SeatingType = "Normal"
	SeatingTypeWheelchair SeatingType = "Wheelchair"
)

// TicketType is one entry of a performance's offer catalog.
type TicketType struct {
	Code string
	Name string
	// Charge in minor units.
	Charge      int64
	SeatingType SeatingType
	// RateLimited marks categories throttled by the admission rate
	// limiter (wheelchair seating).
	RateLimited bool
}

// Performance is a single showing of an event.
type Performance struct {
	ID      string
	EventID string
	// Day in YYYYMMDD form, used to derive order numbers.
	Day         string
	StartsAt    time.Time
	EndsAt      time.Time
	TicketTypes []TicketType
}

// OfferByCode resolves a ticket type from the catalog.
func (p Performance) OfferByCode(code string) (TicketType, bool) {
	for _, tt := range p.TicketTypes {
		if tt.Code == code {
			return tt, true
		}
	}
	return TicketType{}, false
}

// Seat identifies one physical seat of a performance's seat map.
type Seat struct {
	Section     string
	Number      string
	SeatingType SeatingType
}
