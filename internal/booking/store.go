package booking

import (
	"context"
	"time"

	"github.com/passbi/intercity/internal/models"
	"github.com/passbi/intercity/internal/topology"
)

// TripTx is an atomic unit of work holding the trip's exclusive lock. Every read
// made through it observes all sales committed before the lock was taken.
type TripTx interface {
	Trip() models.Trip
	OccupyingTickets(ctx context.Context) ([]models.Ticket, error)
	Ticket(ctx context.Context, ticketID string) (models.Ticket, error)
	Sale(ctx context.Context, saleID string) (models.Sale, error)
	SaleTickets(ctx context.Context, saleID string) ([]models.Ticket, error)
	InsertSale(ctx context.Context, sale models.Sale) error
	InsertTickets(ctx context.Context, tickets []models.Ticket) error
	UpdateTicketStatus(ctx context.Context, ticketID string, status models.TicketStatus, at time.Time) error
	UpdateSalePayment(ctx context.Context, saleID string, status models.PaymentStatus) error
	SetOccupied(ctx context.Context, occupied int) error
	// MarkHasSales freezes the trip's bus and capacity
	MarkHasSales(ctx context.Context) error
}

// HoldRef points at a pending sale whose hold has lapsed
type HoldRef struct {
	TenantID string
	TripID   string
	SaleID   string
}

// Store is the persistence boundary of the booking engine
type Store interface {
	GetTrip(ctx context.Context, tenantID, tripID string) (models.Trip, error)
	GetTicket(ctx context.Context, tenantID, ticketID string) (models.Ticket, error)
	GetSale(ctx context.Context, tenantID, saleID string) (models.Sale, error)
	// TripTickets is a lock-free snapshot of the occupying tickets of a trip
	TripTickets(ctx context.Context, tenantID, tripID string) ([]models.Ticket, error)
	ExpiredHolds(ctx context.Context, cutoff time.Time, limit int) ([]HoldRef, error)
	// InTripTx runs fn serialized against every other InTripTx on the same trip.
	// Returning an error from fn rolls back all writes made through the TripTx.
	InTripTx(ctx context.Context, tenantID, tripID string, fn func(tx TripTx) error) error
}

// RouteLookup resolves the topology of a trip's route
type RouteLookup interface {
	Get(ctx context.Context, tenantID, routeID string) (*topology.Topology, error)
}

// SeatLookup resolves the enabled seats of a bus
type SeatLookup interface {
	Resolve(ctx context.Context, tenantID, busID string) ([]models.Seat, error)
	Index(ctx context.Context, tenantID, busID string) (map[string]models.Seat, error)
}

// AvailabilityCache stores rendered availability per trip generation. A bump of the
// generation makes every earlier entry unreachable.
type AvailabilityCache interface {
	Generation(ctx context.Context, tenantID, tripID string) (int64, error)
	GetAvailability(ctx context.Context, tenantID, tripID string, gen int64, from, to int) ([]models.SeatAvailability, bool)
	SetAvailability(ctx context.Context, tenantID, tripID string, gen int64, from, to int, seats []models.SeatAvailability)
	BumpGeneration(ctx context.Context, tenantID, tripID string)
}

// Recorder receives booking metrics
type Recorder interface {
	SaleCommitted(tickets int, d time.Duration)
	SaleRejected(reason string)
	TicketsReleased(reason string, n int)
}

type nopRecorder struct{}

func (nopRecorder) SaleCommitted(int, time.Duration) {}
func (nopRecorder) SaleRejected(string)              {}
func (nopRecorder) TicketsReleased(string, int)      {}
