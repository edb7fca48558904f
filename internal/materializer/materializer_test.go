package materializer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passbi/intercity/internal/clock"
	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/events"
	"github.com/passbi/intercity/internal/materializer"
	"github.com/passbi/intercity/internal/models"
	"github.com/passbi/intercity/internal/network"
	"github.com/passbi/intercity/internal/recurrence"
	"github.com/passbi/intercity/internal/store/memory"
)

const tenant = "coop-1"

// Wednesday
var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func fleet(buses int) *network.Network {
	n := &network.Network{
		TenantID: tenant,
		Routes: []models.Route{
			{ID: "R1", TenantID: tenant, Category: "cama", Active: true},
			{ID: "R2", TenantID: tenant, Category: "semi", Active: true},
		},
		Stops: []models.Stop{
			{ID: "R1:0", TenantID: tenant, RouteID: "R1", Order: 0},
			{ID: "R1:1", TenantID: tenant, RouteID: "R1", Order: 1, CumFare: 3000},
			{ID: "R2:0", TenantID: tenant, RouteID: "R2", Order: 0},
			{ID: "R2:1", TenantID: tenant, RouteID: "R2", Order: 1, CumFare: 2000},
		},
		Schedules: []models.Schedule{
			{ID: "SC1", TenantID: tenant, RouteID: "R1", DepartureTime: 8 * 3600, WeekMask: uint8(recurrence.Weekdays), Active: true},
			{ID: "SC2", TenantID: tenant, RouteID: "R1", DepartureTime: 20 * 3600, WeekMask: uint8(recurrence.Weekdays), Active: true},
			{ID: "SC3", TenantID: tenant, RouteID: "R2", DepartureTime: 9 * 3600, WeekMask: uint8(recurrence.AllDays), Active: true},
		},
		Crew: []models.CrewMember{
			{ID: "D1", TenantID: tenant, Role: models.RoleDriver, Active: true},
			{ID: "A1", TenantID: tenant, Role: models.RoleAssistant, Active: true},
		},
	}
	ids := []string{"B1", "B2", "B3", "B4"}
	for _, id := range ids[:buses] {
		n.Buses = append(n.Buses, models.Bus{ID: id, TenantID: tenant, Category: "cama", TotalSeats: 40, Active: true})
	}
	return n
}

func setup(t *testing.T, buses int, opts materializer.Options) (*materializer.Materializer, *memory.Store, *clock.Fixed) {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.SaveNetwork(context.Background(), fleet(buses)))
	clk := clock.NewFixed(start.Add(10 * time.Hour))
	if opts.Selector == nil {
		opts.Selector = &materializer.FirstSelector{}
	}
	return materializer.New(st, st, clk, opts), st, clk
}

func TestMaterialize(t *testing.T) {
	m, st, _ := setup(t, 2, materializer.Options{})
	ctx := context.Background()
	sched, err := st.Schedule(ctx, tenant, "SC1")
	require.NoError(t, err)

	trip, err := m.Materialize(ctx, tenant, sched, start.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, "B1", trip.BusID)
	assert.Equal(t, 40, trip.Capacity)
	assert.Equal(t, 0, trip.Occupied)
	assert.Equal(t, models.OriginAutomatic, trip.Origin)
	assert.Equal(t, "R1", trip.RouteID)
	assert.Equal(t, time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC), trip.DepartureAt)
	require.NotNil(t, trip.DriverID)
	assert.Equal(t, "D1", *trip.DriverID)
	require.NotNil(t, trip.AssistantID)
	assert.Equal(t, "A1", *trip.AssistantID)

	again, err := m.Materialize(ctx, tenant, sched, start.AddDate(0, 0, 1))
	assert.True(t, errors.Is(err, domain.ErrAlreadyMaterialized))
	assert.Equal(t, trip.ID, again.ID)
}

func TestMaterializeRangeIsIdempotent(t *testing.T) {
	m, st, _ := setup(t, 2, materializer.Options{})
	ctx := context.Background()
	end := start.AddDate(0, 0, 13)

	sched, err := st.Schedule(ctx, tenant, "SC1")
	require.NoError(t, err)
	schedules := []models.Schedule{sched}

	first, err := m.MaterializeRange(ctx, tenant, schedules, start, end)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Created)
	assert.Equal(t, 0, first.Skipped)
	assert.Empty(t, first.Gaps)
	assert.Equal(t, 1, first.ByState[models.TripInProgress])
	assert.Equal(t, 9, first.ByState[models.TripScheduled])

	second, err := m.MaterializeRange(ctx, tenant, schedules, start, end)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 10, second.Skipped)

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		trips, err := st.ListTrips(ctx, tenant, d)
		require.NoError(t, err)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			assert.Empty(t, trips, d.Format(time.DateOnly))
		} else {
			assert.Len(t, trips, 1, d.Format(time.DateOnly))
		}
	}
}

func TestOneTripPerBusPerDate(t *testing.T) {
	m, st, _ := setup(t, 1, materializer.Options{})
	ctx := context.Background()

	// SC1 and SC2 both need the only cama bus, SC3 has no semi bus
	summary, err := m.MaterializeRange(ctx, tenant, nil, start, start)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	require.Len(t, summary.Gaps, 2)
	for _, g := range summary.Gaps {
		assert.Contains(t, g.Reason, domain.ErrNoCompatibleBus.Error())
	}

	trips, err := st.ListTrips(ctx, tenant, start)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "SC1", trips[0].ScheduleID)
}

func TestNoCompatibleBusDoesNotAbortRun(t *testing.T) {
	m, _, _ := setup(t, 2, materializer.Options{})

	summary, err := m.MaterializeRange(context.Background(), tenant, nil, start, start.AddDate(0, 0, 6))
	require.NoError(t, err)

	// SC1 and SC2 run 5 weekdays on the two cama buses, SC3 has no semi bus at all
	assert.Equal(t, 10, summary.Created)
	assert.Len(t, summary.Gaps, 7)
	for _, g := range summary.Gaps {
		assert.Equal(t, "SC3", g.ScheduleID)
	}
}

func TestConcurrentMaterializationRespectsBusGuard(t *testing.T) {
	m, st, _ := setup(t, 2, materializer.Options{})
	ctx := context.Background()
	s1, _ := st.Schedule(ctx, tenant, "SC1")
	s2, _ := st.Schedule(ctx, tenant, "SC2")

	var wg sync.WaitGroup
	for _, s := range []models.Schedule{s1, s2} {
		wg.Add(1)
		go func(s models.Schedule) {
			defer wg.Done()
			_, err := m.Materialize(ctx, tenant, s, start)
			assert.NoError(t, err)
		}(s)
	}
	wg.Wait()

	trips, err := st.ListTrips(ctx, tenant, start)
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.NotEqual(t, trips[0].BusID, trips[1].BusID)
}

func TestLeastUsedSelection(t *testing.T) {
	m, st, _ := setup(t, 2, materializer.Options{Selector: &materializer.LeastUsedSelector{}})
	ctx := context.Background()
	sched, _ := st.Schedule(ctx, tenant, "SC1")

	first, err := m.Materialize(ctx, tenant, sched, start)
	require.NoError(t, err)
	second, err := m.Materialize(ctx, tenant, sched, start.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, "B1", first.BusID)
	assert.Equal(t, "B2", second.BusID, "B1 already has a trip in the window")
}

func TestCreateManual(t *testing.T) {
	m, _, _ := setup(t, 2, materializer.Options{})
	ctx := context.Background()
	driver := "D1"

	trip, err := m.CreateManual(ctx, tenant, materializer.ManualTrip{
		ScheduleID: "SC1", Date: start.AddDate(0, 0, 5), BusID: "B2", DriverID: &driver,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OriginManual, trip.Origin)
	assert.Equal(t, "B2", trip.BusID)
	require.NotNil(t, trip.DriverID)
	assert.Equal(t, "D1", *trip.DriverID)

	_, err = m.CreateManual(ctx, tenant, materializer.ManualTrip{ScheduleID: "SC3", Date: start, BusID: "B1"})
	assert.True(t, errors.Is(err, domain.ErrNoCompatibleBus))

	_, err = m.CreateManual(ctx, tenant, materializer.ManualTrip{ScheduleID: "SC1"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestCreateManualRejectsUnusableCrew(t *testing.T) {
	m, st, _ := setup(t, 3, materializer.Options{})
	ctx := context.Background()
	require.NoError(t, st.SaveNetwork(ctx, &network.Network{
		TenantID: "other",
		Crew: []models.CrewMember{
			{ID: "XD", TenantID: "other", Role: models.RoleDriver, Active: true},
		},
	}))
	require.NoError(t, st.SaveNetwork(ctx, &network.Network{
		TenantID: tenant,
		Crew: []models.CrewMember{
			{ID: "D2", TenantID: tenant, Role: models.RoleDriver, Active: false},
		},
	}))

	day := start.AddDate(0, 0, 1)
	other, _ := st.Schedule(ctx, tenant, "SC2")
	busy, err := m.Materialize(ctx, tenant, other, day)
	require.NoError(t, err)
	require.NotNil(t, busy.DriverID)

	id := func(s string) *string { return &s }
	tests := []struct {
		name      string
		driver    *string
		assistant *string
	}{
		{"driver of another tenant", id("XD"), nil},
		{"unknown driver", id("nobody"), nil},
		{"inactive driver", id("D2"), nil},
		{"assistant as driver", id("A1"), nil},
		{"driver as assistant", nil, id("D1")},
		{"driver already serving that date", id(*busy.DriverID), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateManual(ctx, tenant, materializer.ManualTrip{
				ScheduleID: "SC1", Date: day, DriverID: tt.driver, AssistantID: tt.assistant,
			})
			assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
		})
	}

	_, found, err := st.FindTrip(ctx, tenant, "SC1", day)
	require.NoError(t, err)
	assert.False(t, found, "rejected requests leave no trip behind")
}

func TestRangeRecordsFailingScheduleAsGap(t *testing.T) {
	m, st, _ := setup(t, 2, materializer.Options{})
	ctx := context.Background()
	good, _ := st.Schedule(ctx, tenant, "SC1")
	broken := models.Schedule{ID: "SC9", TenantID: tenant, RouteID: "R9", DepartureTime: 7 * 3600, WeekMask: uint8(recurrence.Weekdays), Active: true}

	summary, err := m.MaterializeRange(ctx, tenant, []models.Schedule{broken, good}, start, start.AddDate(0, 0, 6))
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Created)
	require.Len(t, summary.Gaps, 5)
	for _, g := range summary.Gaps {
		assert.Equal(t, "SC9", g.ScheduleID)
		assert.Contains(t, g.Reason, "R9")
	}
}

func TestReassignBus(t *testing.T) {
	m, st, _ := setup(t, 3, materializer.Options{})
	ctx := context.Background()
	sched, _ := st.Schedule(ctx, tenant, "SC1")
	day := start.AddDate(0, 0, 1)

	trip, err := m.Materialize(ctx, tenant, sched, day)
	require.NoError(t, err)
	other, _ := st.Schedule(ctx, tenant, "SC2")
	busy, err := m.Materialize(ctx, tenant, other, day)
	require.NoError(t, err)

	_, err = m.ReassignBus(ctx, tenant, trip.ID, busy.BusID)
	assert.True(t, errors.Is(err, domain.ErrBusTaken))

	moved, err := m.ReassignBus(ctx, tenant, trip.ID, "B3")
	require.NoError(t, err)
	assert.Equal(t, "B3", moved.BusID)

	// the released bus is free again on that date
	a, err := st.AssignedOn(ctx, tenant, day)
	require.NoError(t, err)
	assert.False(t, a.Buses["B1"])

	_, err = st.UpdateTrip(ctx, tenant, trip.ID, func(tr *models.Trip) error {
		tr.HasSales = true
		return nil
	})
	require.NoError(t, err)
	_, err = m.ReassignBus(ctx, tenant, trip.ID, "B1")
	assert.True(t, errors.Is(err, domain.ErrTripLocked))
}

func TestCancelTrip(t *testing.T) {
	ev := &events.Memory{}
	m, st, clk := setup(t, 2, materializer.Options{Events: ev})
	ctx := context.Background()
	sched, _ := st.Schedule(ctx, tenant, "SC1")

	future, err := m.Materialize(ctx, tenant, sched, start.AddDate(0, 0, 2))
	require.NoError(t, err)

	cancelled, err := m.CancelTrip(ctx, tenant, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripCancelled, cancelled.State)
	assert.Len(t, ev.OfType(events.TripCancelled), 1)

	_, err = m.CancelTrip(ctx, tenant, future.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	past, err := m.Materialize(ctx, tenant, sched, start)
	require.NoError(t, err)
	clk.Advance(48 * time.Hour)
	_, err = m.CancelTrip(ctx, tenant, past.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "completed trips cannot be cancelled")

	occupied, err := m.Materialize(ctx, tenant, sched, start.AddDate(0, 0, 6))
	require.NoError(t, err)
	_, err = st.UpdateTrip(ctx, tenant, occupied.ID, func(tr *models.Trip) error {
		tr.Occupied = 3
		return nil
	})
	require.NoError(t, err)
	_, err = m.CancelTrip(ctx, tenant, occupied.ID)
	assert.True(t, errors.Is(err, domain.ErrTripLocked))
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func TestRangeLock(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{}}
	m, _, _ := setup(t, 2, materializer.Options{Locker: locker})
	ctx := context.Background()

	locker.held["lock:materialize:"+tenant] = true
	_, err := m.MaterializeRange(ctx, tenant, nil, start, start)
	assert.True(t, errors.Is(err, materializer.ErrRunInProgress))

	delete(locker.held, "lock:materialize:"+tenant)
	_, err = m.MaterializeRange(ctx, tenant, nil, start, start)
	require.NoError(t, err)
	assert.Empty(t, locker.held, "lock released after the run")
}
