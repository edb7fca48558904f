package postgres

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"github.com/passbi/intercity/internal/models"
	"github.com/passbi/intercity/internal/network"
)

// SaveNetwork upserts every entity of n in one transaction. Stops of the
// routes present in n are replaced so that reordering takes effect.
func (s *Store) SaveNetwork(ctx context.Context, n *network.Network) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range n.Routes {
		batch.Queue(`
			INSERT INTO routes (id, tenant_id, code, name, category, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name,
				category = EXCLUDED.category, active = EXCLUDED.active
		`, r.ID, r.TenantID, r.Code, r.Name, r.Category, r.Active)
	}
	for routeID, stops := range n.StopsByRoute() {
		batch.Queue(`DELETE FROM route_stops WHERE route_id = $1`, routeID)
		for _, st := range stops {
			batch.Queue(`
				INSERT INTO route_stops (id, tenant_id, route_id, city_id, city_name, stop_order,
					cum_distance_km, cum_minutes, cum_fare)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, st.ID, st.TenantID, st.RouteID, st.CityID, st.CityName, st.Order,
				st.CumDistanceKm, st.CumMinutes, st.CumFare)
		}
	}
	for _, sc := range n.Schedules {
		batch.Queue(`
			INSERT INTO schedules (id, tenant_id, route_id, departure_time, week_mask, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET route_id = EXCLUDED.route_id, departure_time = EXCLUDED.departure_time,
				week_mask = EXCLUDED.week_mask, active = EXCLUDED.active
		`, sc.ID, sc.TenantID, sc.RouteID, sc.DepartureTime, int16(sc.WeekMask), sc.Active)
	}
	for _, b := range n.Buses {
		batch.Queue(`
			INSERT INTO buses (id, tenant_id, plate, category, total_seats, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET plate = EXCLUDED.plate, category = EXCLUDED.category,
				total_seats = EXCLUDED.total_seats, active = EXCLUDED.active
		`, b.ID, b.TenantID, b.Plate, b.Category, b.TotalSeats, b.Active)
	}
	for _, st := range n.Seats {
		batch.Queue(`
			INSERT INTO seats (id, bus_id, floor, seat_row, seat_col, label, seat_type, enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET floor = EXCLUDED.floor, seat_row = EXCLUDED.seat_row,
				seat_col = EXCLUDED.seat_col, label = EXCLUDED.label, seat_type = EXCLUDED.seat_type,
				enabled = EXCLUDED.enabled
		`, st.ID, st.BusID, st.Floor, st.Row, st.Column, st.Label, st.SeatType, st.Enabled)
	}
	for _, c := range n.Crew {
		batch.Queue(`
			INSERT INTO crew_members (id, tenant_id, name, role, active)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role, active = EXCLUDED.active
		`, c.ID, c.TenantID, c.Name, string(c.Role), c.Active)
	}

	queued := batch.Len()
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to save network (statement %d): %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit network: %w", err)
	}

	log.Printf("✅ Saved network for %s: %d routes, %d schedules, %d buses, %d seats",
		n.TenantID, len(n.Routes), len(n.Schedules), len(n.Buses), len(n.Seats))
	return nil
}

// RouteStops implements topology.StopSource
func (s *Store) RouteStops(ctx context.Context, tenantID, routeID string) ([]models.Stop, error) {
	if _, err := s.Route(ctx, tenantID, routeID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, route_id, city_id, city_name, stop_order, cum_distance_km, cum_minutes, cum_fare
		FROM route_stops
		WHERE route_id = $1
		ORDER BY stop_order
	`, routeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	var stops []models.Stop
	for rows.Next() {
		var st models.Stop
		if err := rows.Scan(&st.ID, &st.TenantID, &st.RouteID, &st.CityID, &st.CityName, &st.Order,
			&st.CumDistanceKm, &st.CumMinutes, &st.CumFare); err != nil {
			return nil, err
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

// BusSeats implements seatmap.SeatSource
func (s *Store) BusSeats(ctx context.Context, tenantID, busID string) ([]models.Seat, error) {
	if _, err := s.Bus(ctx, tenantID, busID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, bus_id, floor, seat_row, seat_col, label, seat_type, enabled
		FROM seats
		WHERE bus_id = $1
		ORDER BY floor, seat_row, seat_col
	`, busID)
	if err != nil {
		return nil, fmt.Errorf("failed to query seats: %w", err)
	}
	defer rows.Close()

	var seats []models.Seat
	for rows.Next() {
		var st models.Seat
		if err := rows.Scan(&st.ID, &st.BusID, &st.Floor, &st.Row, &st.Column, &st.Label, &st.SeatType, &st.Enabled); err != nil {
			return nil, err
		}
		seats = append(seats, st)
	}
	return seats, rows.Err()
}

func (s *Store) Route(ctx context.Context, tenantID, routeID string) (models.Route, error) {
	var r models.Route
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, code, name, category, active, created_at
		FROM routes WHERE id = $1 AND tenant_id = $2
	`, routeID, tenantID).Scan(&r.ID, &r.TenantID, &r.Code, &r.Name, &r.Category, &r.Active, &r.CreatedAt)
	if err != nil {
		return models.Route{}, notFound(err, "route", routeID)
	}
	return r, nil
}

func scanSchedule(row pgx.Row) (models.Schedule, error) {
	var (
		sc   models.Schedule
		mask int16
	)
	if err := row.Scan(&sc.ID, &sc.TenantID, &sc.RouteID, &sc.DepartureTime, &mask, &sc.Active); err != nil {
		return models.Schedule{}, err
	}
	sc.WeekMask = uint8(mask)
	return sc, nil
}

func (s *Store) Schedule(ctx context.Context, tenantID, scheduleID string) (models.Schedule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, route_id, departure_time, week_mask, active
		FROM schedules WHERE id = $1 AND tenant_id = $2
	`, scheduleID, tenantID)
	sc, err := scanSchedule(row)
	if err != nil {
		return models.Schedule{}, notFound(err, "schedule", scheduleID)
	}
	return sc, nil
}

func (s *Store) ActiveSchedules(ctx context.Context, tenantID string) ([]models.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, route_id, departure_time, week_mask, active
		FROM schedules WHERE tenant_id = $1 AND active
		ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) Bus(ctx context.Context, tenantID, busID string) (models.Bus, error) {
	var b models.Bus
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, plate, category, total_seats, active
		FROM buses WHERE id = $1 AND tenant_id = $2
	`, busID, tenantID).Scan(&b.ID, &b.TenantID, &b.Plate, &b.Category, &b.TotalSeats, &b.Active)
	if err != nil {
		return models.Bus{}, notFound(err, "bus", busID)
	}
	return b, nil
}

func (s *Store) ActiveBuses(ctx context.Context, tenantID, category string) ([]models.Bus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, plate, category, total_seats, active
		FROM buses WHERE tenant_id = $1 AND category = $2 AND active
		ORDER BY id
	`, tenantID, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Bus
	for rows.Next() {
		var b models.Bus
		if err := rows.Scan(&b.ID, &b.TenantID, &b.Plate, &b.Category, &b.TotalSeats, &b.Active); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ActiveCrew(ctx context.Context, tenantID string, role models.CrewRole) ([]models.CrewMember, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, role, active
		FROM crew_members WHERE tenant_id = $1 AND role = $2 AND active
		ORDER BY id
	`, tenantID, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CrewMember
	for rows.Next() {
		var (
			c models.CrewMember
			r string
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &r, &c.Active); err != nil {
			return nil, err
		}
		c.Role = models.CrewRole(r)
		out = append(out, c)
	}
	return out, rows.Err()
}
