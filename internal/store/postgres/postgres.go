// Package postgres persists the network, trips and sales in PostgreSQL. Sale
// commits lock the trip row with SELECT ... FOR UPDATE, which serializes them
// per trip while leaving other trips free.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/passbi/intercity/internal/booking"
	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/materializer"
	"github.com/passbi/intercity/internal/models"
)

const (
	uniqueViolation    = "23505"
	scheduleDateIndex  = "uq_trips_schedule_date"
	busDateIndex       = "uq_trips_bus_date"
	occupyingStatusSQL = "('held', 'confirmed', 'boarded')"
)

const tripColumns = `id, tenant_id, schedule_id, route_id, trip_date, bus_id, driver_id, assistant_id,
	departure_at, capacity, occupied, state, origin, has_sales, created_at`

const ticketColumns = `id, tenant_id, sale_id, trip_id, seat_id, board_order, alight_order,
	passenger_ref, fare, status, created_at, updated_at`

const saleColumns = `id, tenant_id, trip_id, payment_status, total_fare, hold_expires_at, created_at`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanTrip(row pgx.Row) (models.Trip, error) {
	var (
		t             models.Trip
		state, origin string
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.ScheduleID, &t.RouteID, &t.Date, &t.BusID, &t.DriverID, &t.AssistantID,
		&t.DepartureAt, &t.Capacity, &t.Occupied, &state, &origin, &t.HasSales, &t.CreatedAt)
	if err != nil {
		return models.Trip{}, err
	}
	t.State = models.TripState(state)
	t.Origin = models.GenerationOrigin(origin)
	t.Date = models.DateOf(t.Date)
	return t, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var (
		t      models.Ticket
		status string
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.SaleID, &t.TripID, &t.SeatID, &t.BoardOrder, &t.AlightOrder,
		&t.PassengerRef, &t.Fare, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Ticket{}, err
	}
	t.Status = models.TicketStatus(status)
	return t, nil
}

func scanSale(row pgx.Row) (models.Sale, error) {
	var (
		s      models.Sale
		status string
	)
	err := row.Scan(&s.ID, &s.TenantID, &s.TripID, &status, &s.TotalFare, &s.HoldExpiresAt, &s.CreatedAt)
	if err != nil {
		return models.Sale{}, err
	}
	s.PaymentStatus = models.PaymentStatus(status)
	return s, nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFound(resource, id)
	}
	return err
}

// tripConflict maps unique violations of the trip guards to domain errors
func tripConflict(err error, t models.Trip) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case scheduleDateIndex:
		return domain.ErrAlreadyMaterialized
	case busDateIndex:
		return fmt.Errorf("%w: bus %s on %s", domain.ErrBusTaken, t.BusID, t.Date.Format(time.DateOnly))
	}
	return err
}

func (s *Store) GetTrip(ctx context.Context, tenantID, tripID string) (models.Trip, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1 AND tenant_id = $2`, tripID, tenantID)
	t, err := scanTrip(row)
	if err != nil {
		return models.Trip{}, notFound(err, "trip", tripID)
	}
	return t, nil
}

func (s *Store) ListTrips(ctx context.Context, tenantID string, date time.Time) ([]models.Trip, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE tenant_id = $1 AND trip_date = $2
		ORDER BY departure_at, id
	`, tenantID, models.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

func (s *Store) FindTrip(ctx context.Context, tenantID, scheduleID string, date time.Time) (models.Trip, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE tenant_id = $1 AND schedule_id = $2 AND trip_date = $3
	`, tenantID, scheduleID, models.DateOf(date))
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Trip{}, false, nil
	}
	if err != nil {
		return models.Trip{}, false, err
	}
	return t, true, nil
}

func (s *Store) AssignedOn(ctx context.Context, tenantID string, date time.Time) (materializer.Assignments, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT bus_id, driver_id, assistant_id FROM trips
		WHERE tenant_id = $1 AND trip_date = $2 AND state <> 'cancelled'
	`, tenantID, models.DateOf(date))
	if err != nil {
		return materializer.Assignments{}, err
	}
	defer rows.Close()

	a := materializer.Assignments{Buses: map[string]bool{}, Crew: map[string]bool{}}
	for rows.Next() {
		var (
			busID             string
			driver, assistant *string
		)
		if err := rows.Scan(&busID, &driver, &assistant); err != nil {
			return materializer.Assignments{}, err
		}
		a.Buses[busID] = true
		if driver != nil {
			a.Crew[*driver] = true
		}
		if assistant != nil {
			a.Crew[*assistant] = true
		}
	}
	return a, rows.Err()
}

func (s *Store) UsageCounts(ctx context.Context, tenantID string, from, to time.Time) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		WITH window_trips AS (
			SELECT bus_id, driver_id, assistant_id FROM trips
			WHERE tenant_id = $1 AND trip_date BETWEEN $2 AND $3 AND state <> 'cancelled'
		)
		SELECT id, COUNT(*) FROM (
			SELECT bus_id AS id FROM window_trips
			UNION ALL SELECT driver_id FROM window_trips WHERE driver_id IS NOT NULL
			UNION ALL SELECT assistant_id FROM window_trips WHERE assistant_id IS NOT NULL
		) u
		GROUP BY id
	`, tenantID, models.DateOf(from), models.DateOf(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *Store) InsertTrip(ctx context.Context, t models.Trip) error {
	t.Date = models.DateOf(t.Date)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trips (id, tenant_id, schedule_id, route_id, trip_date, bus_id, driver_id, assistant_id,
			departure_at, capacity, occupied, state, origin, has_sales, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, t.ID, t.TenantID, t.ScheduleID, t.RouteID, t.Date, t.BusID, t.DriverID, t.AssistantID,
		t.DepartureAt, t.Capacity, t.Occupied, string(t.State), string(t.Origin), t.HasSales, t.CreatedAt)
	if err != nil {
		return tripConflict(err, t)
	}
	return nil
}

func (s *Store) UpdateTrip(ctx context.Context, tenantID, tripID string, fn func(t *models.Trip) error) (models.Trip, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Trip{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, tripID, tenantID)
	t, err := scanTrip(row)
	if err != nil {
		return models.Trip{}, notFound(err, "trip", tripID)
	}
	if err := fn(&t); err != nil {
		return models.Trip{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE trips SET bus_id = $1, driver_id = $2, assistant_id = $3, capacity = $4,
			occupied = $5, state = $6, has_sales = $7
		WHERE id = $8
	`, t.BusID, t.DriverID, t.AssistantID, t.Capacity, t.Occupied, string(t.State), t.HasSales, t.ID)
	if err != nil {
		return models.Trip{}, tripConflict(err, t)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Trip{}, fmt.Errorf("failed to commit: %w", err)
	}
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, tenantID, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 AND tenant_id = $2`, ticketID, tenantID)
	t, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, notFound(err, "ticket", ticketID)
	}
	return t, nil
}

// GetSale returns the sale with its tickets
func (s *Store) GetSale(ctx context.Context, tenantID, saleID string) (models.Sale, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 AND tenant_id = $2`, saleID, tenantID)
	sale, err := scanSale(row)
	if err != nil {
		return models.Sale{}, notFound(err, "sale", saleID)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE sale_id = $1 ORDER BY seat_id, board_order`, saleID)
	if err != nil {
		return models.Sale{}, err
	}
	sale.Tickets, err = collectTickets(rows)
	return sale, err
}

func (s *Store) TripTickets(ctx context.Context, tenantID, tripID string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE trip_id = $1 AND tenant_id = $2 AND status IN `+occupyingStatusSQL, tripID, tenantID)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

// AllTripTickets returns every ticket of a trip regardless of status
func (s *Store) AllTripTickets(ctx context.Context, tenantID, tripID string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE trip_id = $1 AND tenant_id = $2
		ORDER BY seat_id, board_order
	`, tripID, tenantID)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) ExpiredHolds(ctx context.Context, cutoff time.Time, limit int) ([]booking.HoldRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, trip_id, id FROM sales
		WHERE payment_status = 'pending' AND hold_expires_at <= $1
		ORDER BY hold_expires_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.HoldRef
	for rows.Next() {
		var h booking.HoldRef
		if err := rows.Scan(&h.TenantID, &h.TripID, &h.SaleID); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// OccupancyReport summarises every trip of the tenant with a date in [from, to]
func (s *Store) OccupancyReport(ctx context.Context, tenantID string, from, to time.Time) ([]models.TripOccupancy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.route_id, t.trip_date, t.capacity, t.occupied,
			k.status, COUNT(k.id), COALESCE(SUM(k.fare) FILTER (WHERE k.status <> 'cancelled'), 0)
		FROM trips t
		LEFT JOIN tickets k ON k.trip_id = t.id
		WHERE t.tenant_id = $1 AND t.trip_date BETWEEN $2 AND $3
		GROUP BY t.id, k.status
		ORDER BY t.trip_date, t.id
	`, tenantID, models.DateOf(from), models.DateOf(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query occupancy: %w", err)
	}
	defer rows.Close()

	var out []models.TripOccupancy
	for rows.Next() {
		var (
			o       models.TripOccupancy
			status  *string
			count   int
			revenue int64
		)
		if err := rows.Scan(&o.TripID, &o.RouteID, &o.Date, &o.Capacity, &o.Occupied, &status, &count, &revenue); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].TripID != o.TripID {
			o.ByStatus = make(map[models.TicketStatus]int)
			if o.Capacity > 0 {
				o.LoadRatio = float64(o.Occupied) / float64(o.Capacity)
			}
			out = append(out, o)
		}
		cur := &out[len(out)-1]
		if status != nil {
			cur.ByStatus[models.TicketStatus(*status)] = count
		}
		cur.Revenue += revenue
	}
	return out, rows.Err()
}

// InTripTx opens a read-committed transaction holding the trip row lock
func (s *Store) InTripTx(ctx context.Context, tenantID, tripID string, fn func(tx booking.TripTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, tripID, tenantID)
	trip, err := scanTrip(row)
	if err != nil {
		return notFound(err, "trip", tripID)
	}

	if err := fn(&tripTx{tx: tx, trip: trip}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
