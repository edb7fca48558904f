package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/passbi/intercity/internal/clock"
	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/events"
	"github.com/passbi/intercity/internal/models"
)

const (
	DefaultHoldTTL   = 15 * time.Minute
	DefaultReapBatch = 200
)

// Options configures optional collaborators of the engine
type Options struct {
	HoldTTL   time.Duration
	ReapBatch int
	Cache     AvailabilityCache
	Events    events.Publisher
	Metrics   Recorder
}

// Engine sells seats for stop segments of materialized trips
type Engine struct {
	store   Store
	routes  RouteLookup
	seats   SeatLookup
	clock   clock.Clock
	holdTTL time.Duration
	batch   int
	cache   AvailabilityCache
	events  events.Publisher
	metrics Recorder
	newID   func() string
}

func NewEngine(store Store, routes RouteLookup, seats SeatLookup, clk clock.Clock, opts Options) *Engine {
	e := &Engine{
		store:   store,
		routes:  routes,
		seats:   seats,
		clock:   clk,
		holdTTL: opts.HoldTTL,
		batch:   opts.ReapBatch,
		cache:   opts.Cache,
		events:  opts.Events,
		metrics: opts.Metrics,
		newID:   uuid.NewString,
	}
	if e.holdTTL <= 0 {
		e.holdTTL = DefaultHoldTTL
	}
	if e.batch <= 0 {
		e.batch = DefaultReapBatch
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.metrics == nil {
		e.metrics = nopRecorder{}
	}
	return e
}

// SaleItem requests one seat for the segment [From, To)
type SaleItem struct {
	SeatID       string `json:"seat_id"`
	From         int    `json:"from"`
	To           int    `json:"to"`
	PassengerRef string `json:"passenger_ref"`
}

// SaleRequest is a multi-seat purchase on one trip. Unpaid sales are held until
// confirmed or reaped.
type SaleRequest struct {
	Items []SaleItem `json:"items"`
	Paid  bool       `json:"paid"`
}

// IsSeatFreeForSegment answers from a lock-free snapshot. A true result is advisory:
// only CommitSale decides.
func (e *Engine) IsSeatFreeForSegment(ctx context.Context, tenantID, tripID, seatID string, from, to int) (bool, error) {
	trip, err := e.store.GetTrip(ctx, tenantID, tripID)
	if err != nil {
		return false, err
	}
	topo, err := e.routes.Get(ctx, tenantID, trip.RouteID)
	if err != nil {
		return false, err
	}
	if err := topo.ValidateSegment(from, to); err != nil {
		return false, err
	}
	index, err := e.seats.Index(ctx, tenantID, trip.BusID)
	if err != nil {
		return false, err
	}
	if _, ok := index[seatID]; !ok {
		return false, domain.NotFound("seat", seatID)
	}
	tickets, err := e.store.TripTickets(ctx, tenantID, tripID)
	if err != nil {
		return false, err
	}
	return SeatFree(tickets, seatID, Segment{Board: from, Alight: to}), nil
}

// CheckAvailability lists every enabled seat of the trip's bus with its state for [from, to)
func (e *Engine) CheckAvailability(ctx context.Context, tenantID, tripID string, from, to int) ([]models.SeatAvailability, error) {
	trip, err := e.store.GetTrip(ctx, tenantID, tripID)
	if err != nil {
		return nil, err
	}
	topo, err := e.routes.Get(ctx, tenantID, trip.RouteID)
	if err != nil {
		return nil, err
	}
	if err := topo.ValidateSegment(from, to); err != nil {
		return nil, err
	}

	// Generation is read before the snapshot so a concurrent commit can only
	// leave an entry under a generation that is already obsolete.
	var gen int64 = -1
	if e.cache != nil {
		if g, err := e.cache.Generation(ctx, tenantID, tripID); err == nil {
			gen = g
			if cached, ok := e.cache.GetAvailability(ctx, tenantID, tripID, gen, from, to); ok {
				return cached, nil
			}
		} else {
			log.Printf("availability cache generation %s: %v", tripID, err)
		}
	}

	seats, err := e.seats.Resolve(ctx, tenantID, trip.BusID)
	if err != nil {
		return nil, err
	}
	tickets, err := e.store.TripTickets(ctx, tenantID, tripID)
	if err != nil {
		return nil, err
	}

	seg := Segment{Board: from, Alight: to}
	out := make([]models.SeatAvailability, 0, len(seats))
	for _, s := range seats {
		out = append(out, models.SeatAvailability{
			SeatID:   s.ID,
			Label:    s.Label,
			Floor:    s.Floor,
			Row:      s.Row,
			Column:   s.Column,
			SeatType: s.SeatType,
			Free:     SeatFree(tickets, s.ID, seg),
		})
	}

	if e.cache != nil && gen >= 0 {
		e.cache.SetAvailability(ctx, tenantID, tripID, gen, from, to, out)
	}
	return out, nil
}

// CommitSale books every item or none. All checks and writes run while holding
// the trip's exclusive lock, so two sales racing for overlapping segments of the
// same seat cannot both succeed.
func (e *Engine) CommitSale(ctx context.Context, tenantID, tripID string, req SaleRequest) (models.Sale, error) {
	start := time.Now()
	sale, err := e.commitSale(ctx, tenantID, tripID, req)
	if err != nil {
		e.metrics.SaleRejected(rejectReason(err))
		return models.Sale{}, err
	}
	e.metrics.SaleCommitted(len(sale.Tickets), time.Since(start))
	e.bump(ctx, tenantID, tripID)

	ids := make([]string, 0, len(sale.Tickets))
	for _, t := range sale.Tickets {
		ids = append(ids, t.ID)
	}
	e.publish(ctx, events.Event{
		Type:      events.SaleCommitted,
		TenantID:  tenantID,
		TripID:    tripID,
		SaleID:    sale.ID,
		TicketIDs: ids,
		Count:     len(ids),
	})
	return sale, nil
}

func (e *Engine) commitSale(ctx context.Context, tenantID, tripID string, req SaleRequest) (models.Sale, error) {
	if len(req.Items) == 0 {
		return models.Sale{}, fmt.Errorf("%w: sale has no items", domain.ErrInvalidInput)
	}

	trip, err := e.store.GetTrip(ctx, tenantID, tripID)
	if err != nil {
		return models.Sale{}, err
	}
	topo, err := e.routes.Get(ctx, tenantID, trip.RouteID)
	if err != nil {
		return models.Sale{}, err
	}
	for _, it := range req.Items {
		if err := topo.ValidateSegment(it.From, it.To); err != nil {
			return models.Sale{}, err
		}
	}

	var sale models.Sale
	err = e.store.InTripTx(ctx, tenantID, tripID, func(tx TripTx) error {
		t := tx.Trip()
		if err := ensureOpen(t, clock.Today(e.clock)); err != nil {
			return err
		}

		// The bus may have been reassigned between the snapshot and the lock
		index, err := e.seats.Index(ctx, tenantID, t.BusID)
		if err != nil {
			return err
		}
		existing, err := tx.OccupyingTickets(ctx)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		sale = models.Sale{
			ID:            e.newID(),
			TenantID:      tenantID,
			TripID:        tripID,
			PaymentStatus: models.PaymentPending,
			CreatedAt:     now,
		}
		status := models.TicketHeld
		if req.Paid {
			status = models.TicketConfirmed
			sale.PaymentStatus = models.PaymentPaid
		} else {
			exp := now.Add(e.holdTTL)
			sale.HoldExpiresAt = &exp
		}

		var conflicts []domain.SeatConflict
		pending := make([]models.Ticket, 0, len(req.Items))
		for _, it := range req.Items {
			seg := Segment{Board: it.From, Alight: it.To}
			conflict := domain.SeatConflict{SeatID: it.SeatID, From: it.From, To: it.To}
			if _, ok := index[it.SeatID]; !ok {
				conflict.Reason = "seat not on bus"
				conflicts = append(conflicts, conflict)
				continue
			}
			if blocker(existing, it.SeatID, seg) != nil {
				conflict.Reason = "segment taken"
				conflicts = append(conflicts, conflict)
				continue
			}
			if blocker(pending, it.SeatID, seg) != nil {
				conflict.Reason = "duplicated in sale"
				conflicts = append(conflicts, conflict)
				continue
			}
			fare, err := topo.FareBetween(it.From, it.To)
			if err != nil {
				return err
			}
			pending = append(pending, models.Ticket{
				ID:           e.newID(),
				TenantID:     tenantID,
				SaleID:       sale.ID,
				TripID:       tripID,
				SeatID:       it.SeatID,
				BoardOrder:   it.From,
				AlightOrder:  it.To,
				PassengerRef: it.PassengerRef,
				Fare:         fare,
				Status:       status,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			sale.TotalFare += fare
		}
		if len(conflicts) > 0 {
			return domain.SeatConflictError{TripID: tripID, Conflicts: conflicts}
		}

		before := occupiedSeats(existing)
		after := occupiedSeats(pending)
		for id := range before {
			after[id] = true
		}
		if len(after) > t.Capacity {
			return domain.CapacityError{
				TripID:    tripID,
				Capacity:  t.Capacity,
				Occupied:  len(before),
				Requested: len(after) - len(before),
			}
		}

		if err := tx.InsertSale(ctx, sale); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		if err := tx.InsertTickets(ctx, pending); err != nil {
			return fmt.Errorf("insert tickets: %w", err)
		}
		if err := tx.SetOccupied(ctx, len(after)); err != nil {
			return err
		}
		if !t.HasSales {
			if err := tx.MarkHasSales(ctx); err != nil {
				return err
			}
		}
		sale.Tickets = pending
		return nil
	})
	if err != nil {
		return models.Sale{}, err
	}
	return sale, nil
}

// ConfirmSale records payment of a held sale. Confirming a paid sale is a no-op.
func (e *Engine) ConfirmSale(ctx context.Context, tenantID, saleID string) (models.Sale, error) {
	head, err := e.store.GetSale(ctx, tenantID, saleID)
	if err != nil {
		return models.Sale{}, err
	}

	var out models.Sale
	changed := false
	err = e.store.InTripTx(ctx, tenantID, head.TripID, func(tx TripTx) error {
		sale, err := tx.Sale(ctx, saleID)
		if err != nil {
			return err
		}
		tickets, err := tx.SaleTickets(ctx, saleID)
		if err != nil {
			return err
		}
		switch sale.PaymentStatus {
		case models.PaymentPaid:
			sale.Tickets = tickets
			out = sale
			return nil
		case models.PaymentVoid:
			return domain.ErrHoldExpired
		}
		now := e.clock.Now()
		if sale.HoldExpiresAt != nil && !now.Before(*sale.HoldExpiresAt) {
			return domain.ErrHoldExpired
		}
		for i := range tickets {
			if tickets[i].Status != models.TicketHeld {
				continue
			}
			if err := tx.UpdateTicketStatus(ctx, tickets[i].ID, models.TicketConfirmed, now); err != nil {
				return err
			}
			tickets[i].Status = models.TicketConfirmed
			tickets[i].UpdatedAt = now
		}
		if err := tx.UpdateSalePayment(ctx, saleID, models.PaymentPaid); err != nil {
			return err
		}
		sale.PaymentStatus = models.PaymentPaid
		sale.HoldExpiresAt = nil
		sale.Tickets = tickets
		out = sale
		changed = true
		return nil
	})
	if err != nil {
		return models.Sale{}, err
	}
	if changed {
		e.publish(ctx, events.Event{
			Type:     events.SaleConfirmed,
			TenantID: tenantID,
			TripID:   out.TripID,
			SaleID:   saleID,
			Count:    len(out.Tickets),
		})
	}
	return out, nil
}

// CancelTicket releases the ticket's segment for resale
func (e *Engine) CancelTicket(ctx context.Context, tenantID, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, tenantID, ticketID, models.TicketCancelled)
}

// MarkNoShow releases the segment of a confirmed passenger who never boarded
func (e *Engine) MarkNoShow(ctx context.Context, tenantID, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, tenantID, ticketID, models.TicketNoShow)
}

func (e *Engine) MarkBoarded(ctx context.Context, tenantID, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, tenantID, ticketID, models.TicketBoarded)
}

func (e *Engine) transition(ctx context.Context, tenantID, ticketID string, to models.TicketStatus) (models.Ticket, error) {
	head, err := e.store.GetTicket(ctx, tenantID, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}

	var out models.Ticket
	released := false
	err = e.store.InTripTx(ctx, tenantID, head.TripID, func(tx TripTx) error {
		tk, err := tx.Ticket(ctx, ticketID)
		if err != nil {
			return err
		}
		if !CanTransition(tk.Status, to) {
			return domain.TransitionError{Entity: "ticket", From: string(tk.Status), To: string(to)}
		}
		now := e.clock.Now()
		if err := tx.UpdateTicketStatus(ctx, ticketID, to, now); err != nil {
			return err
		}
		if tk.Status.Occupies() && !to.Occupies() {
			if err := e.release(ctx, tx, map[string]bool{ticketID: true}); err != nil {
				return err
			}
			released = true
			if err := e.voidIfEmpty(ctx, tx, tk.SaleID, ticketID); err != nil {
				return err
			}
		}
		tk.Status = to
		tk.UpdatedAt = now
		out = tk
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}

	if released {
		e.metrics.TicketsReleased(string(to), 1)
		e.bump(ctx, tenantID, out.TripID)
		e.publish(ctx, events.Event{
			Type:      events.TicketReleased,
			TenantID:  tenantID,
			TripID:    out.TripID,
			SaleID:    out.SaleID,
			TicketIDs: []string{out.ID},
			Reason:    string(to),
			Count:     1,
		})
	} else if to == models.TicketBoarded {
		e.publish(ctx, events.Event{
			Type:      events.TicketBoarded,
			TenantID:  tenantID,
			TripID:    out.TripID,
			SaleID:    out.SaleID,
			TicketIDs: []string{out.ID},
			Count:     1,
		})
	}
	return out, nil
}

// release recounts the occupied seats once the given tickets stop occupying
func (e *Engine) release(ctx context.Context, tx TripTx, gone map[string]bool) error {
	tickets, err := tx.OccupyingTickets(ctx)
	if err != nil {
		return err
	}
	remaining := make([]models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if !gone[t.ID] {
			remaining = append(remaining, t)
		}
	}
	return tx.SetOccupied(ctx, len(occupiedSeats(remaining)))
}

// voidIfEmpty voids an unpaid sale once none of its tickets occupies a seat
func (e *Engine) voidIfEmpty(ctx context.Context, tx TripTx, saleID, releasedID string) error {
	sale, err := tx.Sale(ctx, saleID)
	if err != nil {
		return err
	}
	if sale.PaymentStatus != models.PaymentPending {
		return nil
	}
	tickets, err := tx.SaleTickets(ctx, saleID)
	if err != nil {
		return err
	}
	for _, t := range tickets {
		if t.ID != releasedID && t.Status.Occupies() {
			return nil
		}
	}
	return tx.UpdateSalePayment(ctx, saleID, models.PaymentVoid)
}

// ReapExpiredHolds cancels the held tickets of every sale whose hold has lapsed.
// It returns the number of tickets released.
func (e *Engine) ReapExpiredHolds(ctx context.Context) (int, error) {
	now := e.clock.Now()
	refs, err := e.store.ExpiredHolds(ctx, now, e.batch)
	if err != nil {
		return 0, fmt.Errorf("list expired holds: %w", err)
	}

	total := 0
	var errs []error
	for _, ref := range refs {
		n, err := e.reapSale(ctx, ref, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("reap sale %s: %w", ref.SaleID, err))
			continue
		}
		if n == 0 {
			continue
		}
		total += n
		e.metrics.TicketsReleased("hold_expired", n)
		e.bump(ctx, ref.TenantID, ref.TripID)
		e.publish(ctx, events.Event{
			Type:     events.TicketReleased,
			TenantID: ref.TenantID,
			TripID:   ref.TripID,
			SaleID:   ref.SaleID,
			Reason:   "hold_expired",
			Count:    n,
		})
	}
	return total, errors.Join(errs...)
}

func (e *Engine) reapSale(ctx context.Context, ref HoldRef, now time.Time) (int, error) {
	released := 0
	err := e.store.InTripTx(ctx, ref.TenantID, ref.TripID, func(tx TripTx) error {
		sale, err := tx.Sale(ctx, ref.SaleID)
		if err != nil {
			return err
		}
		// Confirmed or voided since it was listed
		if sale.PaymentStatus != models.PaymentPending || sale.HoldExpiresAt == nil || now.Before(*sale.HoldExpiresAt) {
			return nil
		}
		tickets, err := tx.SaleTickets(ctx, ref.SaleID)
		if err != nil {
			return err
		}
		gone := make(map[string]bool)
		for _, t := range tickets {
			if t.Status != models.TicketHeld {
				continue
			}
			if err := tx.UpdateTicketStatus(ctx, t.ID, models.TicketCancelled, now); err != nil {
				return err
			}
			gone[t.ID] = true
		}
		if len(gone) > 0 {
			if err := e.release(ctx, tx, gone); err != nil {
				return err
			}
		}
		if err := tx.UpdateSalePayment(ctx, ref.SaleID, models.PaymentVoid); err != nil {
			return err
		}
		released = len(gone)
		return nil
	})
	return released, err
}

func (e *Engine) bump(ctx context.Context, tenantID, tripID string) {
	if e.cache != nil {
		e.cache.BumpGeneration(ctx, tenantID, tripID)
	}
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if ev.At.IsZero() {
		ev.At = e.clock.Now()
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		log.Printf("⚠️  publish %s failed: %v", ev.Type, err)
	}
}

// ensureOpen rejects sales on cancelled trips and on trips whose date has passed
func ensureOpen(t models.Trip, today time.Time) error {
	switch t.DisplayState(today) {
	case models.TripCancelled, models.TripCompleted:
		return fmt.Errorf("%w: trip %s is %s", domain.ErrTripClosed, t.ID, t.DisplayState(today))
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidSegment):
		return "invalid_segment"
	case errors.Is(err, domain.ErrSeatUnavailable):
		return "seat_unavailable"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, domain.ErrTripClosed):
		return "trip_closed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
