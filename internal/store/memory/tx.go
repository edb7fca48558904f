package memory

import (
	"context"
	"time"

	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/models"
)

type ticketUpdate struct {
	status models.TicketStatus
	at     time.Time
}

// tripTx reads through to the store and overlays its own staged writes
type tripTx struct {
	store *Store
	trip  models.Trip

	sales         map[string]models.Sale
	newTickets    []models.Ticket
	ticketUpdates map[string]ticketUpdate
}

func (tx *tripTx) Trip() models.Trip {
	return tx.trip
}

func (tx *tripTx) overlay(t models.Ticket) models.Ticket {
	if u, ok := tx.ticketUpdates[t.ID]; ok {
		t.Status = u.status
		t.UpdatedAt = u.at
	}
	return t
}

func (tx *tripTx) allTickets() []models.Ticket {
	s := tx.store
	s.mu.RLock()
	out := make([]models.Ticket, 0, len(s.tripTickets[tx.trip.ID])+len(tx.newTickets))
	for _, id := range s.tripTickets[tx.trip.ID] {
		out = append(out, tx.overlay(s.tickets[id]))
	}
	s.mu.RUnlock()
	for _, t := range tx.newTickets {
		out = append(out, tx.overlay(t))
	}
	return out
}

func (tx *tripTx) OccupyingTickets(_ context.Context) ([]models.Ticket, error) {
	var out []models.Ticket
	for _, t := range tx.allTickets() {
		if t.Status.Occupies() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (tx *tripTx) Ticket(_ context.Context, ticketID string) (models.Ticket, error) {
	for _, t := range tx.allTickets() {
		if t.ID == ticketID {
			return t, nil
		}
	}
	return models.Ticket{}, domain.NotFound("ticket", ticketID)
}

func (tx *tripTx) Sale(_ context.Context, saleID string) (models.Sale, error) {
	if s, ok := tx.sales[saleID]; ok {
		return s, nil
	}
	tx.store.mu.RLock()
	s, ok := tx.store.sales[saleID]
	tx.store.mu.RUnlock()
	if !ok || s.TripID != tx.trip.ID {
		return models.Sale{}, domain.NotFound("sale", saleID)
	}
	return s, nil
}

func (tx *tripTx) SaleTickets(_ context.Context, saleID string) ([]models.Ticket, error) {
	var out []models.Ticket
	for _, t := range tx.allTickets() {
		if t.SaleID == saleID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (tx *tripTx) InsertSale(_ context.Context, sale models.Sale) error {
	sale.Tickets = nil
	tx.sales[sale.ID] = sale
	return nil
}

func (tx *tripTx) InsertTickets(_ context.Context, tickets []models.Ticket) error {
	tx.newTickets = append(tx.newTickets, tickets...)
	return nil
}

func (tx *tripTx) UpdateTicketStatus(ctx context.Context, ticketID string, status models.TicketStatus, at time.Time) error {
	if _, err := tx.Ticket(ctx, ticketID); err != nil {
		return err
	}
	tx.ticketUpdates[ticketID] = ticketUpdate{status: status, at: at}
	return nil
}

func (tx *tripTx) UpdateSalePayment(ctx context.Context, saleID string, status models.PaymentStatus) error {
	sale, err := tx.Sale(ctx, saleID)
	if err != nil {
		return err
	}
	sale.PaymentStatus = status
	if status != models.PaymentPending {
		sale.HoldExpiresAt = nil
	}
	tx.sales[saleID] = sale
	return nil
}

func (tx *tripTx) SetOccupied(_ context.Context, occupied int) error {
	tx.trip.Occupied = occupied
	return nil
}

func (tx *tripTx) MarkHasSales(_ context.Context) error {
	tx.trip.HasSales = true
	return nil
}

func (tx *tripTx) apply() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trips[tx.trip.ID] = tx.trip
	for id, sale := range tx.sales {
		s.sales[id] = sale
	}
	for _, t := range tx.newTickets {
		s.tickets[t.ID] = t
		s.tripTickets[t.TripID] = append(s.tripTickets[t.TripID], t.ID)
		s.saleTickets[t.SaleID] = append(s.saleTickets[t.SaleID], t.ID)
	}
	for id, u := range tx.ticketUpdates {
		t := s.tickets[id]
		t.Status = u.status
		t.UpdatedAt = u.at
		s.tickets[id] = t
	}
}
