package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passbi/intercity/internal/booking"
	"github.com/passbi/intercity/internal/db"
	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/models"
	"github.com/passbi/intercity/internal/network"
)

// testStore connects to TEST_DATABASE_URL and seeds a fresh tenant so runs do not collide.
func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.InitPoolFromURL(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))

	tenant := "t-" + uuid.NewString()[:8]
	p := func(id string) string { return tenant + "-" + id }
	n := &network.Network{
		TenantID: tenant,
		Routes:   []models.Route{{ID: p("R1"), TenantID: tenant, Category: "cama", Active: true}},
		Stops: []models.Stop{
			{ID: p("R1:0"), TenantID: tenant, RouteID: p("R1"), Order: 0},
			{ID: p("R1:1"), TenantID: tenant, RouteID: p("R1"), Order: 1, CumFare: 2000},
		},
		Schedules: []models.Schedule{
			{ID: p("SC1"), TenantID: tenant, RouteID: p("R1"), DepartureTime: 8 * 3600, WeekMask: 0x7f, Active: true},
			{ID: p("SC2"), TenantID: tenant, RouteID: p("R1"), DepartureTime: 20 * 3600, WeekMask: 0x7f, Active: true},
		},
		Buses: []models.Bus{{ID: p("B1"), TenantID: tenant, Category: "cama", TotalSeats: 2, Active: true}},
		Seats: []models.Seat{
			{ID: p("S1"), BusID: p("B1"), Floor: 1, Row: 1, Column: 1, Label: "1", Enabled: true},
			{ID: p("S2"), BusID: p("B1"), Floor: 1, Row: 1, Column: 2, Label: "2", Enabled: true},
		},
	}
	s := New(pool)
	require.NoError(t, s.SaveNetwork(ctx, n))
	return s, tenant
}

func TestNetworkRoundTrip(t *testing.T) {
	s, tenant := testStore(t)
	ctx := context.Background()

	stops, err := s.RouteStops(ctx, tenant, tenant+"-R1")
	require.NoError(t, err)
	require.Len(t, stops, 2)
	assert.Equal(t, int64(2000), stops[1].CumFare)

	seats, err := s.BusSeats(ctx, tenant, tenant+"-B1")
	require.NoError(t, err)
	assert.Len(t, seats, 2)

	scheds, err := s.ActiveSchedules(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, scheds, 2)
	assert.Equal(t, uint8(0x7f), scheds[0].WeekMask)

	_, err = s.Route(ctx, "someone-else", tenant+"-R1")
	assert.True(t, domain.IsNotFound(err))
}

func TestTripGuards(t *testing.T) {
	s, tenant := testStore(t)
	ctx := context.Background()
	day := models.DateOf(time.Now().AddDate(0, 0, 3))
	trip := func(id, sched string) models.Trip {
		return models.Trip{
			ID: tenant + "-" + id, TenantID: tenant, ScheduleID: tenant + "-" + sched, RouteID: tenant + "-R1",
			Date: day, BusID: tenant + "-B1", DepartureAt: day.Add(8 * time.Hour), Capacity: 2,
			State: models.TripScheduled, Origin: models.OriginAutomatic, CreatedAt: time.Now(),
		}
	}

	require.NoError(t, s.InsertTrip(ctx, trip("T1", "SC1")))
	assert.True(t, errors.Is(s.InsertTrip(ctx, trip("T2", "SC1")), domain.ErrAlreadyMaterialized))
	assert.True(t, errors.Is(s.InsertTrip(ctx, trip("T3", "SC2")), domain.ErrBusTaken))

	_, err := s.UpdateTrip(ctx, tenant, tenant+"-T1", func(tr *models.Trip) error {
		tr.State = models.TripCancelled
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, s.InsertTrip(ctx, trip("T3", "SC2")))
}

func TestInTripTx(t *testing.T) {
	s, tenant := testStore(t)
	ctx := context.Background()
	day := models.DateOf(time.Now().AddDate(0, 0, 3))
	tripID := tenant + "-T1"
	require.NoError(t, s.InsertTrip(ctx, models.Trip{
		ID: tripID, TenantID: tenant, ScheduleID: tenant + "-SC1", RouteID: tenant + "-R1",
		Date: day, BusID: tenant + "-B1", DepartureAt: day.Add(8 * time.Hour), Capacity: 2,
		State: models.TripScheduled, Origin: models.OriginAutomatic, CreatedAt: time.Now(),
	}))

	saleID := tenant + "-SA1"
	write := func(tx booking.TripTx) error {
		now := time.Now()
		if err := tx.InsertSale(ctx, models.Sale{ID: saleID, TenantID: tenant, TripID: tripID, PaymentStatus: models.PaymentPaid, CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.InsertTickets(ctx, []models.Ticket{{
			ID: tenant + "-TK1", TenantID: tenant, SaleID: saleID, TripID: tripID, SeatID: tenant + "-S1",
			AlightOrder: 1, Fare: 2000, Status: models.TicketConfirmed, CreatedAt: now, UpdatedAt: now,
		}}); err != nil {
			return err
		}
		if err := tx.MarkHasSales(ctx); err != nil {
			return err
		}
		return tx.SetOccupied(ctx, 1)
	}

	boom := errors.New("boom")
	err := s.InTripTx(ctx, tenant, tripID, func(tx booking.TripTx) error {
		if err := write(tx); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = s.GetSale(ctx, tenant, saleID)
	assert.True(t, domain.IsNotFound(err))

	require.NoError(t, s.InTripTx(ctx, tenant, tripID, write))
	sale, err := s.GetSale(ctx, tenant, saleID)
	require.NoError(t, err)
	assert.Len(t, sale.Tickets, 1)

	trip, err := s.GetTrip(ctx, tenant, tripID)
	require.NoError(t, err)
	assert.Equal(t, 1, trip.Occupied)
	assert.True(t, trip.HasSales)

	report, err := s.OccupancyReport(ctx, tenant, day, day)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, int64(2000), report[0].Revenue)
	assert.Equal(t, 1, report[0].ByStatus[models.TicketConfirmed])
}
