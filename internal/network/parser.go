package network

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/passbi/intercity/internal/models"
	"github.com/passbi/intercity/internal/recurrence"
)

// Network is a cooperative's static data: routes with their stops, weekly
// schedules, fleet with seat maps and crew
type Network struct {
	TenantID  string
	Routes    []models.Route
	Stops     []models.Stop
	Schedules []models.Schedule
	Buses     []models.Bus
	Seats     []models.Seat
	Crew      []models.CrewMember
}

// ParseZip parses a network archive
func ParseZip(zipPath, tenantID string) (*Network, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer reader.Close()
	return Parse(reader, tenantID)
}

// ParseDir parses a directory of network CSV files
func ParseDir(dir, tenantID string) (*Network, error) {
	return Parse(os.DirFS(dir), tenantID)
}

// Parse reads the network files from fsys. Files are matched by base name so
// archives with a top-level folder work too.
func Parse(fsys fs.FS, tenantID string) (*Network, error) {
	files, err := indexFiles(fsys)
	if err != nil {
		return nil, err
	}

	n := &Network{TenantID: tenantID}

	// Required files
	if n.Routes, err = parseFile(fsys, files, "routes.txt", true, parseRoutes); err != nil {
		return nil, err
	}
	log.Printf("Parsed %d routes", len(n.Routes))
	if n.Stops, err = parseFile(fsys, files, "stops.txt", true, parseStops); err != nil {
		return nil, err
	}
	log.Printf("Parsed %d stops", len(n.Stops))
	if n.Schedules, err = parseFile(fsys, files, "schedules.txt", true, parseSchedules); err != nil {
		return nil, err
	}
	log.Printf("Parsed %d schedules", len(n.Schedules))
	if n.Buses, err = parseFile(fsys, files, "buses.txt", true, parseBuses); err != nil {
		return nil, err
	}
	log.Printf("Parsed %d buses", len(n.Buses))
	if n.Seats, err = parseFile(fsys, files, "seats.txt", true, parseSeats); err != nil {
		return nil, err
	}
	log.Printf("Parsed %d seats", len(n.Seats))

	// Optional
	if n.Crew, err = parseFile(fsys, files, "crew.txt", false, parseCrew); err != nil {
		return nil, err
	}
	log.Printf("Parsed %d crew members", len(n.Crew))

	n.stampTenant()
	return n, nil
}

func (n *Network) stampTenant() {
	for i := range n.Routes {
		n.Routes[i].TenantID = n.TenantID
	}
	for i := range n.Stops {
		n.Stops[i].TenantID = n.TenantID
	}
	for i := range n.Schedules {
		n.Schedules[i].TenantID = n.TenantID
	}
	for i := range n.Buses {
		n.Buses[i].TenantID = n.TenantID
	}
	for i := range n.Crew {
		n.Crew[i].TenantID = n.TenantID
	}
}

func indexFiles(fsys fs.FS) (map[string]string, error) {
	files := make(map[string]string)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		files[path.Base(p)] = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list network files: %w", err)
	}
	return files, nil
}

func parseFile[T any](fsys fs.FS, files map[string]string, name string, required bool, parse func(io.Reader) ([]T, error)) ([]T, error) {
	p, ok := files[name]
	if !ok {
		if required {
			return nil, fmt.Errorf("failed to parse %s (required): file missing", name)
		}
		return nil, nil
	}
	f, err := fsys.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return out, nil
}

type table struct {
	reader *csv.Reader
	colMap map[string]int
}

func newTable(reader io.Reader) (*table, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return &table{reader: csvReader, colMap: makeColumnMap(header)}, nil
}

// next returns the next well-formed record, nil at end of file
func (t *table) next(kind string) []string {
	for {
		record, err := t.reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			log.Printf("Warning: skipping malformed %s row: %v", kind, err)
			continue
		}
		return record
	}
}

func (t *table) field(record []string, name string) string {
	return getField(record, t.colMap, name)
}

func parseRoutes(reader io.Reader) ([]models.Route, error) {
	t, err := newTable(reader)
	if err != nil {
		return nil, err
	}
	var routes []models.Route
	for record := t.next("route"); record != nil; record = t.next("route") {
		routeID := t.field(record, "route_id")
		if routeID == "" {
			continue
		}
		routes = append(routes, models.Route{
			ID:       routeID,
			Code:     t.field(record, "route_code"),
			Name:     t.field(record, "route_name"),
			Category: t.field(record, "category"),
			Active:   parseBool(t.field(record, "active"), true),
		})
	}
	return routes, nil
}

func parseStops(reader io.Reader) ([]models.Stop, error) {
	t, err := newTable(reader)
	if err != nil {
		return nil, err
	}
	var stops []models.Stop
	for record := t.next("stop"); record != nil; record = t.next("stop") {
		routeID := t.field(record, "route_id")
		orderStr := t.field(record, "stop_order")
		if routeID == "" || orderStr == "" {
			continue
		}
		order, err := strconv.Atoi(orderStr)
		if err != nil {
			log.Printf("Warning: invalid stop_order for route %s: %v", routeID, err)
			continue
		}
		km, _ := strconv.ParseFloat(t.field(record, "cum_distance_km"), 64)
		minutes, _ := strconv.Atoi(t.field(record, "cum_minutes"))
		fare, err := strconv.ParseInt(t.field(record, "cum_fare"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("route %s stop %d: invalid cum_fare: %w", routeID, order, err)
		}
		id := t.field(record, "stop_id")
		if id == "" {
			id = fmt.Sprintf("%s:%d", routeID, order)
		}
		stops = append(stops, models.Stop{
			ID:            id,
			RouteID:       routeID,
			CityID:        t.field(record, "city_id"),
			CityName:      t.field(record, "city_name"),
			Order:         order,
			CumDistanceKm: km,
			CumMinutes:    minutes,
			CumFare:       fare,
		})
	}
	return stops, nil
}

func parseSchedules(reader io.Reader) ([]models.Schedule, error) {
	t, err := newTable(reader)
	if err != nil {
		return nil, err
	}
	var schedules []models.Schedule
	for record := t.next("schedule"); record != nil; record = t.next("schedule") {
		scheduleID := t.field(record, "schedule_id")
		routeID := t.field(record, "route_id")
		if scheduleID == "" || routeID == "" {
			continue
		}
		secs, err := recurrence.ParseTimeOfDay(t.field(record, "departure_time"))
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", scheduleID, err)
		}
		mask, err := recurrence.ParseWeekMask(t.field(record, "week_mask"))
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", scheduleID, err)
		}
		schedules = append(schedules, models.Schedule{
			ID:            scheduleID,
			RouteID:       routeID,
			DepartureTime: secs,
			WeekMask:      uint8(mask),
			Active:        parseBool(t.field(record, "active"), true),
		})
	}
	return schedules, nil
}

func parseBuses(reader io.Reader) ([]models.Bus, error) {
	t, err := newTable(reader)
	if err != nil {
		return nil, err
	}
	var buses []models.Bus
	for record := t.next("bus"); record != nil; record = t.next("bus") {
		busID := t.field(record, "bus_id")
		if busID == "" {
			continue
		}
		seats, err := strconv.Atoi(t.field(record, "total_seats"))
		if err != nil {
			return nil, fmt.Errorf("bus %s: invalid total_seats: %w", busID, err)
		}
		buses = append(buses, models.Bus{
			ID:         busID,
			Plate:      t.field(record, "plate"),
			Category:   t.field(record, "category"),
			TotalSeats: seats,
			Active:     parseBool(t.field(record, "active"), true),
		})
	}
	return buses, nil
}

func parseSeats(reader io.Reader) ([]models.Seat, error) {
	t, err := newTable(reader)
	if err != nil {
		return nil, err
	}
	var seats []models.Seat
	for record := t.next("seat"); record != nil; record = t.next("seat") {
		busID := t.field(record, "bus_id")
		seatID := t.field(record, "seat_id")
		if busID == "" || seatID == "" {
			continue
		}
		floor, _ := strconv.Atoi(t.field(record, "floor"))
		row, err := strconv.Atoi(t.field(record, "row"))
		if err != nil {
			log.Printf("Warning: invalid row for seat %s: %v", seatID, err)
			continue
		}
		col, err := strconv.Atoi(t.field(record, "column"))
		if err != nil {
			log.Printf("Warning: invalid column for seat %s: %v", seatID, err)
			continue
		}
		label := t.field(record, "label")
		if label == "" {
			label = seatID
		}
		seats = append(seats, models.Seat{
			ID:       seatID,
			BusID:    busID,
			Floor:    floor,
			Row:      row,
			Column:   col,
			Label:    label,
			SeatType: t.field(record, "seat_type"),
			Enabled:  parseBool(t.field(record, "enabled"), true),
		})
	}
	return seats, nil
}

func parseCrew(reader io.Reader) ([]models.CrewMember, error) {
	t, err := newTable(reader)
	if err != nil {
		return nil, err
	}
	var crew []models.CrewMember
	for record := t.next("crew"); record != nil; record = t.next("crew") {
		crewID := t.field(record, "crew_id")
		if crewID == "" {
			continue
		}
		role := models.CrewRole(strings.ToLower(t.field(record, "role")))
		if role != models.RoleDriver && role != models.RoleAssistant {
			log.Printf("Warning: skipping crew %s with unknown role %q", crewID, role)
			continue
		}
		crew = append(crew, models.CrewMember{
			ID:     crewID,
			Name:   t.field(record, "name"),
			Role:   role,
			Active: parseBool(t.field(record, "active"), true),
		})
	}
	return crew, nil
}

// Helper functions

func makeColumnMap(header []string) map[string]int {
	colMap := make(map[string]int)
	for i, col := range header {
		// strip a UTF-8 BOM left by spreadsheet exports
		colMap[strings.TrimPrefix(strings.TrimSpace(col), "\ufeff")] = i
	}
	return colMap
}

func getField(record []string, colMap map[string]int, fieldName string) string {
	if idx, ok := colMap[fieldName]; ok && idx < len(record) {
		return strings.TrimSpace(record[idx])
	}
	return ""
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}
