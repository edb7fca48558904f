// Package manifest renders the passenger list of a trip, one line per ticket,
// for the crew to check boarding and alighting at each stop.
package manifest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"

	"github.com/passbi/intercity/internal/models"
)

// Source loads everything a manifest prints
type Source interface {
	GetTrip(ctx context.Context, tenantID, tripID string) (models.Trip, error)
	AllTripTickets(ctx context.Context, tenantID, tripID string) ([]models.Ticket, error)
	Route(ctx context.Context, tenantID, routeID string) (models.Route, error)
	RouteStops(ctx context.Context, tenantID, routeID string) ([]models.Stop, error)
	Bus(ctx context.Context, tenantID, busID string) (models.Bus, error)
	BusSeats(ctx context.Context, tenantID, busID string) ([]models.Seat, error)
}

type Data struct {
	Trip        models.Trip
	Route       models.Route
	Bus         models.Bus
	Stops       []models.Stop
	Seats       []models.Seat
	Tickets     []models.Ticket
	GeneratedAt time.Time
}

// Line is one printed row
type Line struct {
	Seat      string
	Board     string
	Alight    string
	Passenger string
	Status    models.TicketStatus
	Fare      int64
}

func Load(ctx context.Context, src Source, tenantID, tripID string, now time.Time) (Data, error) {
	trip, err := src.GetTrip(ctx, tenantID, tripID)
	if err != nil {
		return Data{}, err
	}
	route, err := src.Route(ctx, tenantID, trip.RouteID)
	if err != nil {
		return Data{}, fmt.Errorf("route of trip %s: %w", tripID, err)
	}
	stops, err := src.RouteStops(ctx, tenantID, trip.RouteID)
	if err != nil {
		return Data{}, fmt.Errorf("stops of trip %s: %w", tripID, err)
	}
	bus, err := src.Bus(ctx, tenantID, trip.BusID)
	if err != nil {
		return Data{}, fmt.Errorf("bus of trip %s: %w", tripID, err)
	}
	seats, err := src.BusSeats(ctx, tenantID, trip.BusID)
	if err != nil {
		return Data{}, fmt.Errorf("seats of trip %s: %w", tripID, err)
	}
	tickets, err := src.AllTripTickets(ctx, tenantID, tripID)
	if err != nil {
		return Data{}, err
	}
	return Data{Trip: trip, Route: route, Bus: bus, Stops: stops, Seats: seats, Tickets: tickets, GeneratedAt: now}, nil
}

func stopName(stops []models.Stop, order int) string {
	for _, s := range stops {
		if s.Order == order {
			if s.CityName != "" {
				return s.CityName
			}
			return s.CityID
		}
	}
	return fmt.Sprintf("#%d", order)
}

// Lines lists the tickets that still concern the crew, in floor plan order then boarding order.
// Cancelled tickets are left out.
func Lines(d Data) []Line {
	pos := make(map[string]int, len(d.Seats))
	labels := make(map[string]string, len(d.Seats))
	for i, s := range d.Seats {
		pos[s.ID] = i
		labels[s.ID] = s.Label
	}

	tickets := make([]models.Ticket, 0, len(d.Tickets))
	for _, t := range d.Tickets {
		if t.Status != models.TicketCancelled {
			tickets = append(tickets, t)
		}
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		if pos[tickets[i].SeatID] != pos[tickets[j].SeatID] {
			return pos[tickets[i].SeatID] < pos[tickets[j].SeatID]
		}
		return tickets[i].BoardOrder < tickets[j].BoardOrder
	})

	out := make([]Line, 0, len(tickets))
	for _, t := range tickets {
		label := labels[t.SeatID]
		if label == "" {
			label = t.SeatID
		}
		out = append(out, Line{
			Seat:      label,
			Board:     stopName(d.Stops, t.BoardOrder),
			Alight:    stopName(d.Stops, t.AlightOrder),
			Passenger: t.PassengerRef,
			Status:    t.Status,
			Fare:      t.Fare,
		})
	}
	return out
}

func safe(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// Render builds the PDF and its download file name
func Render(d Data) ([]byte, string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Passenger manifest", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "PASSENGER MANIFEST")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	header := []string{
		fmt.Sprintf("Route      : %s %s", safe(d.Route.Code, d.Route.ID), safe(d.Route.Name, "")),
		fmt.Sprintf("Departure  : %s", d.Trip.DepartureAt.Format("2006-01-02 15:04")),
		fmt.Sprintf("Bus        : %s (%s)", safe(d.Bus.Plate, d.Bus.ID), d.Bus.Category),
		fmt.Sprintf("Occupied   : %d / %d", d.Trip.Occupied, d.Trip.Capacity),
		fmt.Sprintf("Generated  : %s", d.GeneratedAt.Format("2006-01-02 15:04")),
	}
	for _, s := range header {
		pdf.Cell(0, 6, s)
		pdf.Ln(6)
	}
	pdf.Ln(4)

	widths := []float64{18, 40, 40, 52, 22, 18}
	cols := []string{"Seat", "Board", "Alight", "Passenger", "Status", "Fare"}
	pdf.SetFont("Helvetica", "B", 10)
	for i, c := range cols {
		pdf.CellFormat(widths[i], 7, c, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	lines := Lines(d)
	for _, l := range lines {
		row := []string{l.Seat, l.Board, l.Alight, safe(l.Passenger, "-"), string(l.Status), fmt.Sprintf("%d", l.Fare)}
		for i, v := range row {
			pdf.CellFormat(widths[i], 6, v, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(lines) == 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "I", 10)
		pdf.Cell(0, 6, "No passengers booked.")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("MANIFEST_%s_%s.pdf", d.Trip.Date.Format("20060102"), d.Trip.ID)
	return buf.Bytes(), filename, nil
}
