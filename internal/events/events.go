package events

import (
	"context"
	"sync"
	"time"
)

// Type names a booking or materialization event
type Type string

const (
	SaleCommitted     Type = "sale.committed"
	SaleConfirmed     Type = "sale.confirmed"
	TicketReleased    Type = "ticket.released"
	TicketBoarded     Type = "ticket.boarded"
	TripsMaterialized Type = "trips.materialized"
	TripCancelled     Type = "trip.cancelled"
)

// Event is published after the unit of work that caused it has committed
type Event struct {
	Type      Type      `json:"type"`
	TenantID  string    `json:"tenantId"`
	TripID    string    `json:"tripId,omitempty"`
	SaleID    string    `json:"saleId,omitempty"`
	TicketIDs []string  `json:"ticketIds,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Count     int       `json:"count,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers events to subscribers. Delivery is best effort: a failed
// publish never undoes the committed change.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Memory keeps published events in order, for tests and local runs
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType filters published events by type
func (m *Memory) OfType(t Type) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
