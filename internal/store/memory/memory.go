// Package memory is an in-process store used by tests and single-node demos.
// Trips are serialized with one mutex each; unrelated trips never contend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/passbi/intercity/internal/booking"
	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/materializer"
	"github.com/passbi/intercity/internal/models"
	"github.com/passbi/intercity/internal/network"
)

type Store struct {
	mu sync.RWMutex

	routes    map[string]models.Route
	stops     map[string][]models.Stop
	schedules map[string]models.Schedule
	buses     map[string]models.Bus
	seats     map[string][]models.Seat
	crew      map[string]models.CrewMember

	trips       map[string]models.Trip
	tripBySched map[string]string // tenant/schedule/date -> trip
	tripByBus   map[string]string // tenant/bus/date -> trip, cancelled trips excluded
	sales       map[string]models.Sale
	tickets     map[string]models.Ticket
	tripTickets map[string][]string
	saleTickets map[string][]string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		routes:      make(map[string]models.Route),
		stops:       make(map[string][]models.Stop),
		schedules:   make(map[string]models.Schedule),
		buses:       make(map[string]models.Bus),
		seats:       make(map[string][]models.Seat),
		crew:        make(map[string]models.CrewMember),
		trips:       make(map[string]models.Trip),
		tripBySched: make(map[string]string),
		tripByBus:   make(map[string]string),
		sales:       make(map[string]models.Sale),
		tickets:     make(map[string]models.Ticket),
		tripTickets: make(map[string][]string),
		saleTickets: make(map[string][]string),
		locks:       make(map[string]*sync.Mutex),
	}
}

func dayKey(parts ...string) string {
	return strings.Join(parts, "/")
}

func dateStr(d time.Time) string {
	return models.DateOf(d).Format(time.DateOnly)
}

// SaveNetwork upserts every entity of n
func (s *Store) SaveNetwork(_ context.Context, n *network.Network) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range n.Routes {
		s.routes[r.ID] = r
	}
	for routeID, list := range n.StopsByRoute() {
		s.stops[routeID] = append([]models.Stop(nil), list...)
	}
	for _, sc := range n.Schedules {
		s.schedules[sc.ID] = sc
	}
	for _, b := range n.Buses {
		s.buses[b.ID] = b
	}
	for busID, list := range n.SeatsByBus() {
		s.seats[busID] = append([]models.Seat(nil), list...)
	}
	for _, c := range n.Crew {
		s.crew[c.ID] = c
	}
	return nil
}

// RouteStops implements topology.StopSource
func (s *Store) RouteStops(_ context.Context, tenantID, routeID string) ([]models.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[routeID]
	if !ok || r.TenantID != tenantID {
		return nil, domain.NotFound("route", routeID)
	}
	return append([]models.Stop(nil), s.stops[routeID]...), nil
}

// BusSeats implements seatmap.SeatSource
func (s *Store) BusSeats(_ context.Context, tenantID, busID string) ([]models.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buses[busID]
	if !ok || b.TenantID != tenantID {
		return nil, domain.NotFound("bus", busID)
	}
	return append([]models.Seat(nil), s.seats[busID]...), nil
}

func (s *Store) Route(_ context.Context, tenantID, routeID string) (models.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[routeID]
	if !ok || r.TenantID != tenantID {
		return models.Route{}, domain.NotFound("route", routeID)
	}
	return r, nil
}

func (s *Store) Schedule(_ context.Context, tenantID, scheduleID string) (models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[scheduleID]
	if !ok || sc.TenantID != tenantID {
		return models.Schedule{}, domain.NotFound("schedule", scheduleID)
	}
	return sc, nil
}

func (s *Store) ActiveSchedules(_ context.Context, tenantID string) ([]models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Schedule
	for _, sc := range s.schedules {
		if sc.TenantID == tenantID && sc.Active {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Bus(_ context.Context, tenantID, busID string) (models.Bus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buses[busID]
	if !ok || b.TenantID != tenantID {
		return models.Bus{}, domain.NotFound("bus", busID)
	}
	return b, nil
}

func (s *Store) ActiveBuses(_ context.Context, tenantID, category string) ([]models.Bus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Bus
	for _, b := range s.buses {
		if b.TenantID == tenantID && b.Active && b.Category == category {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ActiveCrew(_ context.Context, tenantID string, role models.CrewRole) ([]models.CrewMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CrewMember
	for _, c := range s.crew {
		if c.TenantID == tenantID && c.Active && c.Role == role {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindTrip(_ context.Context, tenantID, scheduleID string, date time.Time) (models.Trip, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tripBySched[dayKey(tenantID, scheduleID, dateStr(date))]
	if !ok {
		return models.Trip{}, false, nil
	}
	return s.trips[id], true, nil
}

func (s *Store) AssignedOn(_ context.Context, tenantID string, date time.Time) (materializer.Assignments, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a := materializer.Assignments{Buses: map[string]bool{}, Crew: map[string]bool{}}
	day := models.DateOf(date)
	for _, t := range s.trips {
		if t.TenantID != tenantID || t.State == models.TripCancelled || !t.Date.Equal(day) {
			continue
		}
		a.Buses[t.BusID] = true
		if t.DriverID != nil {
			a.Crew[*t.DriverID] = true
		}
		if t.AssistantID != nil {
			a.Crew[*t.AssistantID] = true
		}
	}
	return a, nil
}

func (s *Store) UsageCounts(_ context.Context, tenantID string, from, to time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	lo, hi := models.DateOf(from), models.DateOf(to)
	for _, t := range s.trips {
		if t.TenantID != tenantID || t.State == models.TripCancelled || t.Date.Before(lo) || t.Date.After(hi) {
			continue
		}
		out[t.BusID]++
		if t.DriverID != nil {
			out[*t.DriverID]++
		}
		if t.AssistantID != nil {
			out[*t.AssistantID]++
		}
	}
	return out, nil
}

func (s *Store) InsertTrip(_ context.Context, trip models.Trip) error {
	trip.Date = models.DateOf(trip.Date)
	s.mu.Lock()
	defer s.mu.Unlock()

	schedKey := dayKey(trip.TenantID, trip.ScheduleID, dateStr(trip.Date))
	if _, ok := s.tripBySched[schedKey]; ok {
		return domain.ErrAlreadyMaterialized
	}
	busKey := dayKey(trip.TenantID, trip.BusID, dateStr(trip.Date))
	if _, ok := s.tripByBus[busKey]; ok {
		return fmt.Errorf("%w: bus %s on %s", domain.ErrBusTaken, trip.BusID, dateStr(trip.Date))
	}
	s.trips[trip.ID] = trip
	s.tripBySched[schedKey] = trip.ID
	s.tripByBus[busKey] = trip.ID
	return nil
}

func (s *Store) GetTrip(_ context.Context, tenantID, tripID string) (models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[tripID]
	if !ok || t.TenantID != tenantID {
		return models.Trip{}, domain.NotFound("trip", tripID)
	}
	return t, nil
}

// ListTrips returns the tenant's trips on date ordered by departure
func (s *Store) ListTrips(_ context.Context, tenantID string, date time.Time) ([]models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := models.DateOf(date)
	var out []models.Trip
	for _, t := range s.trips {
		if t.TenantID == tenantID && t.Date.Equal(day) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DepartureAt.Equal(out[j].DepartureAt) {
			return out[i].DepartureAt.Before(out[j].DepartureAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) tripLock(tripID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[tripID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[tripID] = l
	}
	return l
}

func (s *Store) UpdateTrip(_ context.Context, tenantID, tripID string, fn func(t *models.Trip) error) (models.Trip, error) {
	l := s.tripLock(tripID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	t, ok := s.trips[tripID]
	s.mu.RUnlock()
	if !ok || t.TenantID != tenantID {
		return models.Trip{}, domain.NotFound("trip", tripID)
	}
	before := t
	if err := fn(&t); err != nil {
		return models.Trip{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	oldKey := dayKey(tenantID, before.BusID, dateStr(before.Date))
	newKey := dayKey(tenantID, t.BusID, dateStr(t.Date))
	active := t.State != models.TripCancelled
	if active && newKey != oldKey {
		if _, taken := s.tripByBus[newKey]; taken {
			return models.Trip{}, fmt.Errorf("%w: bus %s on %s", domain.ErrBusTaken, t.BusID, dateStr(t.Date))
		}
	}
	if s.tripByBus[oldKey] == tripID {
		delete(s.tripByBus, oldKey)
	}
	if active {
		s.tripByBus[newKey] = tripID
	}
	s.trips[tripID] = t
	return t, nil
}

func (s *Store) GetTicket(_ context.Context, tenantID, ticketID string) (models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[ticketID]
	if !ok || t.TenantID != tenantID {
		return models.Ticket{}, domain.NotFound("ticket", ticketID)
	}
	return t, nil
}

// GetSale returns the sale with its tickets
func (s *Store) GetSale(_ context.Context, tenantID, saleID string) (models.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[saleID]
	if !ok || sale.TenantID != tenantID {
		return models.Sale{}, domain.NotFound("sale", saleID)
	}
	for _, id := range s.saleTickets[saleID] {
		sale.Tickets = append(sale.Tickets, s.tickets[id])
	}
	return sale, nil
}

func (s *Store) TripTickets(_ context.Context, tenantID, tripID string) ([]models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[tripID]
	if !ok || t.TenantID != tenantID {
		return nil, domain.NotFound("trip", tripID)
	}
	return s.occupying(tripID), nil
}

func (s *Store) occupying(tripID string) []models.Ticket {
	var out []models.Ticket
	for _, id := range s.tripTickets[tripID] {
		if t := s.tickets[id]; t.Status.Occupies() {
			out = append(out, t)
		}
	}
	return out
}

// AllTripTickets returns every ticket of a trip regardless of status
func (s *Store) AllTripTickets(_ context.Context, tenantID, tripID string) ([]models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[tripID]
	if !ok || t.TenantID != tenantID {
		return nil, domain.NotFound("trip", tripID)
	}
	out := make([]models.Ticket, 0, len(s.tripTickets[tripID]))
	for _, id := range s.tripTickets[tripID] {
		out = append(out, s.tickets[id])
	}
	return out, nil
}

func (s *Store) ExpiredHolds(_ context.Context, cutoff time.Time, limit int) ([]booking.HoldRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []booking.HoldRef
	for _, sale := range s.sales {
		if sale.PaymentStatus != models.PaymentPending || sale.HoldExpiresAt == nil || sale.HoldExpiresAt.After(cutoff) {
			continue
		}
		out = append(out, booking.HoldRef{TenantID: sale.TenantID, TripID: sale.TripID, SaleID: sale.ID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SaleID < out[j].SaleID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// OccupancyReport summarises every trip of the tenant with a date in [from, to]
func (s *Store) OccupancyReport(_ context.Context, tenantID string, from, to time.Time) ([]models.TripOccupancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo, hi := models.DateOf(from), models.DateOf(to)
	var out []models.TripOccupancy
	for _, t := range s.trips {
		if t.TenantID != tenantID || t.Date.Before(lo) || t.Date.After(hi) {
			continue
		}
		occ := models.TripOccupancy{
			TripID:   t.ID,
			RouteID:  t.RouteID,
			Date:     t.Date,
			Capacity: t.Capacity,
			Occupied: t.Occupied,
			ByStatus: make(map[models.TicketStatus]int),
		}
		for _, id := range s.tripTickets[t.ID] {
			tk := s.tickets[id]
			occ.ByStatus[tk.Status]++
			if tk.Status != models.TicketCancelled {
				occ.Revenue += tk.Fare
			}
		}
		if t.Capacity > 0 {
			occ.LoadRatio = float64(t.Occupied) / float64(t.Capacity)
		}
		out = append(out, occ)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].TripID < out[j].TripID
	})
	return out, nil
}

// InTripTx stages writes and applies them only when fn succeeds
func (s *Store) InTripTx(ctx context.Context, tenantID, tripID string, fn func(tx booking.TripTx) error) error {
	l := s.tripLock(tripID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	trip, ok := s.trips[tripID]
	s.mu.RUnlock()
	if !ok || trip.TenantID != tenantID {
		return domain.NotFound("trip", tripID)
	}

	tx := &tripTx{
		store:         s,
		trip:          trip,
		sales:         make(map[string]models.Sale),
		ticketUpdates: make(map[string]ticketUpdate),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}
