package materializer

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
	"github.com/passbi/intercity/internal/recurrence"
)

// ErrRunInProgress is returned when another range run holds the tenant's lock
var ErrRunInProgress = errors.New("materialization already running for tenant")

const usageWindow = 30 * 24 * time.Hour

// Directory supplies the tenant's routes, schedules, buses and crew
type Directory interface {
	Route(ctx context.Context, tenantID, routeID string) (models.Route, error)
	Schedule(ctx context.Context, tenantID, scheduleID string) (models.Schedule, error)
	ActiveSchedules(ctx context.Context, tenantID string) ([]models.Schedule, error)
	Bus(ctx context.Context, tenantID, busID string) (models.Bus, error)
	ActiveBuses(ctx context.Context, tenantID, category string) ([]models.Bus, error)
	ActiveCrew(ctx context.Context, tenantID string, role models.CrewRole) ([]models.CrewMember, error)
}

// Assignments lists the buses and crew already serving a trip on one date
type Assignments struct {
	Buses map[string]bool
	Crew  map[string]bool
}

// TripStore persists trips. InsertTrip reports ErrAlreadyMaterialized for a
// duplicate (schedule, date) and ErrBusTaken for a duplicate (bus, date).
type TripStore interface {
	FindTrip(ctx context.Context, tenantID, scheduleID string, date time.Time) (models.Trip, bool, error)
	AssignedOn(ctx context.Context, tenantID string, date time.Time) (Assignments, error)
	UsageCounts(ctx context.Context, tenantID string, from, to time.Time) (map[string]int, error)
	InsertTrip(ctx context.Context, trip models.Trip) error
	GetTrip(ctx context.Context, tenantID, tripID string) (models.Trip, error)
	// UpdateTrip applies fn under the same per-trip lock sales use
	UpdateTrip(ctx context.Context, tenantID, tripID string, fn func(t *models.Trip) error) (models.Trip, error)
}

// Locker guards a tenant-wide range run across processes
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Invalidator drops cached availability of a trip
type Invalidator interface {
	BumpGeneration(ctx context.Context, tenantID, tripID string)
}

// Recorder receives materialization metrics
type Recorder interface {
	RangeMaterialized(created, skipped, gaps int, d time.Duration)
}

type Options struct {
	Selector Selector
	Location *time.Location
	Locker   Locker
	LockTTL  time.Duration
	Cache    Invalidator
	Events   events.Publisher
	Metrics  Recorder
}

// Materializer turns recurring schedules into dated trips
type Materializer struct {
	dir      Directory
	store    TripStore
	clock    clock.Clock
	selector Selector
	loc      *time.Location
	locker   Locker
	lockTTL  time.Duration
	cache    Invalidator
	events   events.Publisher
	metrics  Recorder
	newID    func() string
}

func New(dir Directory, store TripStore, clk clock.Clock, opts Options) *Materializer {
	m := &Materializer{
		dir:      dir,
		store:    store,
		clock:    clk,
		selector: opts.Selector,
		loc:      opts.Location,
		locker:   opts.Locker,
		lockTTL:  opts.LockTTL,
		cache:    opts.Cache,
		events:   opts.Events,
		metrics:  opts.Metrics,
		newID:    uuid.NewString,
	}
	if m.selector == nil {
		m.selector = GetStrategy("random")
	}
	if m.loc == nil {
		m.loc = time.UTC
	}
	if m.lockTTL <= 0 {
		m.lockTTL = 5 * time.Minute
	}
	if m.events == nil {
		m.events = events.Nop{}
	}
	return m
}

// Gap is a (schedule, date) pair left without a trip
type Gap struct {
	ScheduleID string    `json:"schedule_id"`
	Date       time.Time `json:"date"`
	Reason     string    `json:"reason"`
}

// Summary reports a range run
type Summary struct {
	Created int                      `json:"created"`
	Skipped int                      `json:"skipped"`
	ByState map[models.TripState]int `json:"by_state"`
	Gaps    []Gap                    `json:"gaps"`
}

// Materialize creates the trip of schedule s on date. An existing trip for the pair
// is returned together with ErrAlreadyMaterialized.
func (m *Materializer) Materialize(ctx context.Context, tenantID string, s models.Schedule, date time.Time) (models.Trip, error) {
	return m.materialize(ctx, tenantID, s, models.DateOf(date), assignment{}, models.OriginAutomatic)
}

// MaterializeRange materializes every active schedule date in [start, end].
// A nil schedules slice means all active schedules of the tenant. Dates that
// cannot be materialized are reported as gaps and the run continues.
func (m *Materializer) MaterializeRange(ctx context.Context, tenantID string, schedules []models.Schedule, start, end time.Time) (Summary, error) {
	began := time.Now()
	summary := Summary{ByState: make(map[models.TripState]int)}

	if m.locker != nil {
		key := fmt.Sprintf("lock:materialize:%s", tenantID)
		ok, err := m.locker.AcquireLock(ctx, key, m.lockTTL)
		if err != nil {
			return summary, fmt.Errorf("acquire materialize lock: %w", err)
		}
		if !ok {
			return summary, ErrRunInProgress
		}
		defer func() {
			if err := m.locker.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
				log.Printf("⚠️  release materialize lock: %v", err)
			}
		}()
	}

	if schedules == nil {
		var err error
		schedules, err = m.dir.ActiveSchedules(ctx, tenantID)
		if err != nil {
			return summary, fmt.Errorf("load schedules: %w", err)
		}
	}

	today := clock.Today(m.clock)
	for _, s := range schedules {
		for date := range recurrence.ExpandSchedule(s, start, end) {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			trip, err := m.Materialize(ctx, tenantID, s, date)
			switch {
			case err == nil:
				summary.Created++
				summary.ByState[trip.DisplayState(today)]++
			case errors.Is(err, domain.ErrAlreadyMaterialized):
				summary.Skipped++
			case errors.Is(err, domain.ErrNoCompatibleBus):
				summary.Gaps = append(summary.Gaps, Gap{ScheduleID: s.ID, Date: date, Reason: err.Error()})
			case ctx.Err() != nil:
				return summary, ctx.Err()
			default:
				log.Printf("⚠️  materialize schedule %s on %s: %v", s.ID, date.Format(time.DateOnly), err)
				summary.Gaps = append(summary.Gaps, Gap{ScheduleID: s.ID, Date: date, Reason: err.Error()})
			}
		}
	}

	if m.metrics != nil {
		m.metrics.RangeMaterialized(summary.Created, summary.Skipped, len(summary.Gaps), time.Since(began))
	}
	if summary.Created > 0 {
		m.publish(ctx, events.Event{Type: events.TripsMaterialized, TenantID: tenantID, Count: summary.Created})
	}
	return summary, nil
}

// ManualTrip requests a one-off trip. An empty BusID lets the selector pick.
type ManualTrip struct {
	ScheduleID  string    `json:"schedule_id"`
	Date        time.Time `json:"date"`
	BusID       string    `json:"bus_id"`
	DriverID    *string   `json:"driver_id,omitempty"`
	AssistantID *string   `json:"assistant_id,omitempty"`
}

// CreateManual creates a trip outside the automatic horizon run. Requested crew
// must be active members of the tenant with the matching role and free that date.
func (m *Materializer) CreateManual(ctx context.Context, tenantID string, in ManualTrip) (models.Trip, error) {
	if in.ScheduleID == "" || in.Date.IsZero() {
		return models.Trip{}, fmt.Errorf("%w: schedule_id and date are required", domain.ErrInvalidInput)
	}
	s, err := m.dir.Schedule(ctx, tenantID, in.ScheduleID)
	if err != nil {
		return models.Trip{}, err
	}
	want := assignment{busID: in.BusID}
	if in.DriverID != nil {
		want.driverID = *in.DriverID
	}
	if in.AssistantID != nil {
		want.assistantID = *in.AssistantID
	}
	return m.materialize(ctx, tenantID, s, models.DateOf(in.Date), want, models.OriginManual)
}

// assignment pins resources of a trip; empty fields are left to the selector
type assignment struct {
	busID       string
	driverID    string
	assistantID string
}

func (m *Materializer) materialize(ctx context.Context, tenantID string, s models.Schedule, date time.Time, want assignment, origin models.GenerationOrigin) (models.Trip, error) {
	if existing, ok, err := m.store.FindTrip(ctx, tenantID, s.ID, date); err != nil {
		return models.Trip{}, err
	} else if ok {
		return existing, domain.ErrAlreadyMaterialized
	}

	route, err := m.dir.Route(ctx, tenantID, s.RouteID)
	if err != nil {
		return models.Trip{}, err
	}
	assigned, err := m.store.AssignedOn(ctx, tenantID, date)
	if err != nil {
		return models.Trip{}, err
	}

	var buses []models.Bus
	if want.busID != "" {
		bus, err := m.compatibleBus(ctx, tenantID, want.busID, route)
		if err != nil {
			return models.Trip{}, err
		}
		buses = []models.Bus{bus}
	} else {
		pool, err := m.dir.ActiveBuses(ctx, tenantID, route.Category)
		if err != nil {
			return models.Trip{}, err
		}
		for _, b := range pool {
			if !assigned.Buses[b.ID] {
				buses = append(buses, b)
			}
		}
	}
	if len(buses) == 0 {
		return models.Trip{}, fmt.Errorf("%w: category %q on %s", domain.ErrNoCompatibleBus, route.Category, date.Format(time.DateOnly))
	}

	usage := map[string]int{}
	if ua, ok := m.selector.(UsageAware); ok && ua.UsesHistory() {
		usage, err = m.store.UsageCounts(ctx, tenantID, date.Add(-usageWindow), date)
		if err != nil {
			return models.Trip{}, err
		}
	}

	driver, err := m.crewFor(ctx, tenantID, models.RoleDriver, want.driverID, date, assigned, usage)
	if err != nil {
		return models.Trip{}, err
	}
	assistant, err := m.crewFor(ctx, tenantID, models.RoleAssistant, want.assistantID, date, assigned, usage)
	if err != nil {
		return models.Trip{}, err
	}

	byID := make(map[string]models.Bus, len(buses))
	cands := make([]Candidate, 0, len(buses))
	for _, b := range buses {
		byID[b.ID] = b
		cands = append(cands, Candidate{ID: b.ID, Uses: usage[b.ID]})
	}

	for _, c := range m.selector.Order(cands) {
		bus := byID[c.ID]
		trip := models.Trip{
			ID:          m.newID(),
			TenantID:    tenantID,
			ScheduleID:  s.ID,
			RouteID:     s.RouteID,
			Date:        date,
			BusID:       bus.ID,
			DriverID:    driver,
			AssistantID: assistant,
			DepartureAt: recurrence.DepartureAt(date, s.DepartureTime, m.loc),
			Capacity:    bus.TotalSeats,
			State:       models.TripScheduled,
			Origin:      origin,
			CreatedAt:   m.clock.Now(),
		}
		err := m.store.InsertTrip(ctx, trip)
		switch {
		case err == nil:
			return trip, nil
		case errors.Is(err, domain.ErrBusTaken):
			// lost a race for this bus, try the next candidate
			continue
		case errors.Is(err, domain.ErrAlreadyMaterialized):
			existing, _, ferr := m.store.FindTrip(ctx, tenantID, s.ID, date)
			if ferr != nil {
				return models.Trip{}, ferr
			}
			return existing, err
		default:
			return models.Trip{}, err
		}
	}
	return models.Trip{}, fmt.Errorf("%w: every %q bus taken on %s", domain.ErrNoCompatibleBus, route.Category, date.Format(time.DateOnly))
}

// crewFor returns the requested member after checking it, or lets the selector
// pick. It returns nil when nobody of the role is free; crew is optional.
func (m *Materializer) crewFor(ctx context.Context, tenantID string, role models.CrewRole, requested string, date time.Time, assigned Assignments, usage map[string]int) (*string, error) {
	crew, err := m.dir.ActiveCrew(ctx, tenantID, role)
	if err != nil {
		return nil, err
	}
	if requested != "" {
		found := false
		for _, c := range crew {
			if c.ID == requested {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s is not an active %s of the tenant", domain.ErrInvalidInput, requested, role)
		}
		if assigned.Crew[requested] {
			return nil, fmt.Errorf("%w: %s already serves a trip on %s", domain.ErrInvalidInput, requested, date.Format(time.DateOnly))
		}
		return &requested, nil
	}

	var cands []Candidate
	for _, c := range crew {
		if !assigned.Crew[c.ID] {
			cands = append(cands, Candidate{ID: c.ID, Uses: usage[c.ID]})
		}
	}
	if len(cands) == 0 {
		return nil, nil
	}
	id := m.selector.Order(cands)[0].ID
	return &id, nil
}

func (m *Materializer) compatibleBus(ctx context.Context, tenantID, busID string, route models.Route) (models.Bus, error) {
	bus, err := m.dir.Bus(ctx, tenantID, busID)
	if err != nil {
		return models.Bus{}, err
	}
	if !bus.Active || bus.Category != route.Category {
		return models.Bus{}, fmt.Errorf("%w: bus %s (%s) cannot serve route category %q", domain.ErrNoCompatibleBus, bus.ID, bus.Category, route.Category)
	}
	return bus, nil
}

// ReassignBus swaps the bus of a trip that has never sold a ticket
func (m *Materializer) ReassignBus(ctx context.Context, tenantID, tripID, busID string) (models.Trip, error) {
	current, err := m.store.GetTrip(ctx, tenantID, tripID)
	if err != nil {
		return models.Trip{}, err
	}
	route, err := m.dir.Route(ctx, tenantID, current.RouteID)
	if err != nil {
		return models.Trip{}, err
	}
	bus, err := m.compatibleBus(ctx, tenantID, busID, route)
	if err != nil {
		return models.Trip{}, err
	}

	trip, err := m.store.UpdateTrip(ctx, tenantID, tripID, func(t *models.Trip) error {
		if t.State == models.TripCancelled {
			return fmt.Errorf("%w: trip %s is cancelled", domain.ErrTripClosed, t.ID)
		}
		if t.HasSales {
			return fmt.Errorf("%w: trip %s", domain.ErrTripLocked, t.ID)
		}
		t.BusID = bus.ID
		t.Capacity = bus.TotalSeats
		return nil
	})
	if err != nil {
		return models.Trip{}, err
	}
	m.invalidate(ctx, tenantID, tripID)
	return trip, nil
}

// CancelTrip cancels a trip that has no occupying tickets
func (m *Materializer) CancelTrip(ctx context.Context, tenantID, tripID string) (models.Trip, error) {
	today := clock.Today(m.clock)
	trip, err := m.store.UpdateTrip(ctx, tenantID, tripID, func(t *models.Trip) error {
		from := t.DisplayState(today)
		if !CanTransitionTrip(from, models.TripCancelled) {
			return domain.TransitionError{Entity: "trip", From: string(from), To: string(models.TripCancelled)}
		}
		if t.Occupied > 0 {
			return fmt.Errorf("%w: trip %s has %d occupied seats", domain.ErrTripLocked, t.ID, t.Occupied)
		}
		t.State = models.TripCancelled
		return nil
	})
	if err != nil {
		return models.Trip{}, err
	}
	m.invalidate(ctx, tenantID, tripID)
	m.publish(ctx, events.Event{Type: events.TripCancelled, TenantID: tenantID, TripID: tripID})
	return trip, nil
}

func (m *Materializer) invalidate(ctx context.Context, tenantID, tripID string) {
	if m.cache != nil {
		m.cache.BumpGeneration(ctx, tenantID, tripID)
	}
}

func (m *Materializer) publish(ctx context.Context, ev events.Event) {
	if ev.At.IsZero() {
		ev.At = m.clock.Now()
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		log.Printf("⚠️  publish %s failed: %v", ev.Type, err)
	}
}
