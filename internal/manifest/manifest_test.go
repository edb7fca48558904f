package manifest

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passbi/intercity/internal/models"
)

func sample() Data {
	day := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	return Data{
		Trip:  models.Trip{ID: "T1", Date: day, DepartureAt: day.Add(8 * time.Hour), Capacity: 40, Occupied: 2},
		Route: models.Route{ID: "R1", Code: "LPZ-ORU", Name: "La Paz - Oruro"},
		Bus:   models.Bus{ID: "B1", Plate: "2345-XYZ", Category: "cama"},
		Stops: []models.Stop{
			{Order: 0, CityName: "La Paz"}, {Order: 1, CityName: "Patacamaya"}, {Order: 2, CityName: "Oruro"},
		},
		Seats: []models.Seat{{ID: "S1", Label: "1A"}, {ID: "S2", Label: "1B"}},
		Tickets: []models.Ticket{
			{SeatID: "S2", BoardOrder: 0, AlightOrder: 2, PassengerRef: "ana", Status: models.TicketConfirmed, Fare: 3000},
			{SeatID: "S1", BoardOrder: 1, AlightOrder: 2, PassengerRef: "luis", Status: models.TicketHeld, Fare: 1500},
			{SeatID: "S1", BoardOrder: 0, AlightOrder: 1, PassengerRef: "eva", Status: models.TicketBoarded, Fare: 1500},
			{SeatID: "S1", BoardOrder: 0, AlightOrder: 2, PassengerRef: "gone", Status: models.TicketCancelled, Fare: 3000},
		},
		GeneratedAt: day,
	}
}

func TestLines(t *testing.T) {
	lines := Lines(sample())
	require.Len(t, lines, 3, "cancelled tickets are not printed")

	assert.Equal(t, Line{Seat: "1A", Board: "La Paz", Alight: "Patacamaya", Passenger: "eva", Status: models.TicketBoarded, Fare: 1500}, lines[0])
	assert.Equal(t, "luis", lines[1].Passenger)
	assert.Equal(t, "Patacamaya", lines[1].Board)
	assert.Equal(t, "1B", lines[2].Seat)
}

func TestRender(t *testing.T) {
	data, name, err := Render(sample())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
	assert.Equal(t, "MANIFEST_20250312_T1.pdf", name)
}

func TestRenderEmptyTrip(t *testing.T) {
	d := sample()
	d.Tickets = nil
	data, _, err := Render(d)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
