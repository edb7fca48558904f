package models

import "time"

// TripState represents the lifecycle state of a trip
type TripState string

const (
	TripScheduled  TripState = "scheduled"
	TripInProgress TripState = "in_progress"
	TripCompleted  TripState = "completed"
	TripCancelled  TripState = "cancelled"
)

// GenerationOrigin records how a trip came to exist
type GenerationOrigin string

const (
	OriginAutomatic GenerationOrigin = "automatic"
	OriginManual    GenerationOrigin = "manual"
)

// TicketStatus represents the state of a ticket
type TicketStatus string

const (
	TicketHeld      TicketStatus = "held"
	TicketConfirmed TicketStatus = "confirmed"
	TicketBoarded   TicketStatus = "boarded"
	TicketNoShow    TicketStatus = "no_show"
	TicketCancelled TicketStatus = "cancelled"
)

// Occupies reports whether a ticket in this status holds its seat segment
func (s TicketStatus) Occupies() bool {
	return s == TicketHeld || s == TicketConfirmed || s == TicketBoarded
}

// PaymentStatus tracks payment of a sale
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentVoid    PaymentStatus = "void"
)

// CrewRole is the role a crew member serves on a trip
type CrewRole string

const (
	RoleDriver    CrewRole = "driver"
	RoleAssistant CrewRole = "assistant"
)

// Route represents an intercity line operated by a cooperative
type Route struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Category  string    `json:"category"` // bus compatibility pool
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Stop is a point on a route. Cumulative values are measured from the origin (order 0).
type Stop struct {
	ID            string  `json:"id"`
	TenantID      string  `json:"tenant_id"`
	RouteID       string  `json:"route_id"`
	CityID        string  `json:"city_id"`
	CityName      string  `json:"city_name"`
	Order         int     `json:"order"`
	CumDistanceKm float64 `json:"cum_distance_km"`
	CumMinutes    int     `json:"cum_minutes"`
	CumFare       int64   `json:"cum_fare"` // minor currency units
}

// Schedule is a recurring weekly departure of a route
type Schedule struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	RouteID       string `json:"route_id"`
	DepartureTime int    `json:"departure_time"` // seconds since midnight
	WeekMask      uint8  `json:"week_mask"`      // bit 0 = Monday ... bit 6 = Sunday
	Active        bool   `json:"active"`
}

// Bus is a vehicle owned by a cooperative
type Bus struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Plate      string `json:"plate"`
	Category   string `json:"category"`
	TotalSeats int    `json:"total_seats"`
	Active     bool   `json:"active"`
}

// Seat is a physical seat of a bus floor plan
type Seat struct {
	ID       string `json:"id"`
	BusID    string `json:"bus_id"`
	Floor    int    `json:"floor"`
	Row      int    `json:"row"`
	Column   int    `json:"column"`
	Label    string `json:"label"`
	SeatType string `json:"seat_type"`
	Enabled  bool   `json:"enabled"`
}

// CrewMember is a driver or assistant
type CrewMember struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Name     string   `json:"name"`
	Role     CrewRole `json:"role"`
	Active   bool     `json:"active"`
}

// Trip is a concrete dated departure of a schedule
type Trip struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	ScheduleID  string           `json:"schedule_id"`
	RouteID     string           `json:"route_id"`
	Date        time.Time        `json:"date"`
	BusID       string           `json:"bus_id"`
	DriverID    *string          `json:"driver_id,omitempty"`
	AssistantID *string          `json:"assistant_id,omitempty"`
	DepartureAt time.Time        `json:"departure_at"`
	Capacity    int              `json:"capacity"`
	Occupied    int              `json:"occupied"`
	State       TripState        `json:"state"`
	Origin      GenerationOrigin `json:"origin"`
	HasSales    bool             `json:"has_sales"`
	CreatedAt   time.Time        `json:"created_at"`
}

// DisplayState classifies the trip against today's date. Only cancellation is stored;
// every other state is a calendar heuristic, not an observed position of the bus.
func (t Trip) DisplayState(today time.Time) TripState {
	if t.State == TripCancelled {
		return TripCancelled
	}
	return ClassifyDate(t.Date, today)
}

// ClassifyDate maps a service date against today: past dates are completed,
// today is in progress and future dates are scheduled.
func ClassifyDate(date, today time.Time) TripState {
	d, n := DateOf(date), DateOf(today)
	switch {
	case d.Before(n):
		return TripCompleted
	case d.Equal(n):
		return TripInProgress
	default:
		return TripScheduled
	}
}

// DateOf strips the clock part and returns the calendar date at UTC midnight
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Sale groups the tickets bought together for one trip
type Sale struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	TripID        string        `json:"trip_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TotalFare     int64         `json:"total_fare"`
	HoldExpiresAt *time.Time    `json:"hold_expires_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	Tickets       []Ticket      `json:"tickets,omitempty"`
}

// Ticket occupies a seat for the half-open stop interval [BoardOrder, AlightOrder)
type Ticket struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	SaleID       string       `json:"sale_id"`
	TripID       string       `json:"trip_id"`
	SeatID       string       `json:"seat_id"`
	BoardOrder   int          `json:"board_order"`
	AlightOrder  int          `json:"alight_order"`
	PassengerRef string       `json:"passenger_ref"`
	Fare         int64        `json:"fare"`
	Status       TicketStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TripOccupancy summarises load of one trip for reporting
type TripOccupancy struct {
	TripID    string               `json:"trip_id"`
	RouteID   string               `json:"route_id"`
	Date      time.Time            `json:"date"`
	Capacity  int                  `json:"capacity"`
	Occupied  int                  `json:"occupied"`
	ByStatus  map[TicketStatus]int `json:"tickets_by_status"`
	Revenue   int64                `json:"revenue"`
	LoadRatio float64              `json:"load_ratio"`
}

// SeatAvailability is the state of one seat for a requested segment
type SeatAvailability struct {
	SeatID   string `json:"seat_id"`
	Label    string `json:"label"`
	Floor    int    `json:"floor"`
	Row      int    `json:"row"`
	Column   int    `json:"column"`
	SeatType string `json:"seat_type"`
	Free     bool   `json:"free"`
}
