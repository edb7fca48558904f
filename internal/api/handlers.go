package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/passbi/intercity/internal/booking"
	"github.com/passbi/intercity/internal/clock"
	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/manifest"
	"github.com/passbi/intercity/internal/materializer"
	"github.com/passbi/intercity/internal/middleware"
	"github.com/passbi/intercity/internal/models"
	"github.com/passbi/intercity/internal/topology"
)

const dateLayout = "2006-01-02"

// Store is the read side the handlers query directly
type Store interface {
	manifest.Source
	Schedule(ctx context.Context, tenantID, scheduleID string) (models.Schedule, error)
	ListTrips(ctx context.Context, tenantID string, date time.Time) ([]models.Trip, error)
	GetSale(ctx context.Context, tenantID, saleID string) (models.Sale, error)
	OccupancyReport(ctx context.Context, tenantID string, from, to time.Time) ([]models.TripOccupancy, error)
}

// UsageReader reports per-day API traffic of a tenant
type UsageReader interface {
	DailyUsage(ctx context.Context, tenantID string, days int) ([]middleware.UsageStat, error)
}

// HealthCheck is one dependency probed by /health
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Store        Store
	Engine       *booking.Engine
	Materializer *materializer.Materializer
	Routes       *topology.Registry
	Clock        clock.Clock
	HorizonDays  int
	Usage        UsageReader // optional
	Checks       []HealthCheck
}

type Handler struct {
	store       Store
	engine      *booking.Engine
	mat         *materializer.Materializer
	routes      *topology.Registry
	clock       clock.Clock
	horizonDays int
	usage       UsageReader
	checks      []HealthCheck
}

func New(d Deps) *Handler {
	h := &Handler{
		store:       d.Store,
		engine:      d.Engine,
		mat:         d.Materializer,
		routes:      d.Routes,
		clock:       d.Clock,
		horizonDays: d.HorizonDays,
		usage:       d.Usage,
		checks:      d.Checks,
	}
	if h.clock == nil {
		h.clock = clock.System{}
	}
	if h.horizonDays <= 0 {
		h.horizonDays = 30
	}
	return h
}

// Register mounts the tenant routes on r. Tenant resolution must run before them.
func (h *Handler) Register(r fiber.Router) {
	r.Get("/routes/:id/stops", h.RouteStops)
	r.Get("/routes/:id/fare", h.RouteFare)

	r.Post("/trips/materialize", middleware.RequireScope("trips:write"), h.MaterializeTrips)
	r.Post("/trips", middleware.RequireScope("trips:write"), h.CreateTrip)
	r.Get("/trips", h.ListTrips)
	r.Get("/trips/:id", h.GetTrip)
	r.Post("/trips/:id/cancel", middleware.RequireScope("trips:write"), h.CancelTrip)
	r.Put("/trips/:id/bus", middleware.RequireScope("trips:write"), h.ReassignBus)
	r.Get("/trips/:id/availability", h.Availability)
	r.Get("/trips/:id/manifest.pdf", h.Manifest)

	r.Post("/trips/:id/sales", middleware.RequireScope("sales"), h.CommitSale)
	r.Post("/sales/:id/confirm", middleware.RequireScope("sales"), h.ConfirmSale)
	r.Get("/sales/:id", h.GetSale)
	r.Post("/tickets/:id/cancel", middleware.RequireScope("sales"), h.CancelTicket)
	r.Post("/tickets/:id/board", middleware.RequireScope("boarding"), h.BoardTicket)
	r.Post("/tickets/:id/no-show", middleware.RequireScope("boarding"), h.NoShowTicket)

	r.Get("/reports/occupancy", h.OccupancyReport)
	r.Get("/reports/usage", h.UsageReport)
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	checks := fiber.Map{}
	healthy := true
	for _, hc := range h.checks {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = err.Error()
			healthy = false
			continue
		}
		checks[hc.Name] = "ok"
	}

	status, httpStatus := "healthy", 200
	if !healthy {
		status, httpStatus = "unhealthy", 503
	}
	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"time":   h.clock.Now().Format(time.RFC3339),
		"checks": checks,
	})
}

// ErrorHandler is the last resort for errors handlers did not map themselves
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	log.Printf("Error [%s %s]: %v", c.Method(), c.Path(), err)

	return c.Status(code).JSON(fiber.Map{
		"error":   "internal_error",
		"message": err.Error(),
	})
}

// writeError maps domain errors to HTTP statuses. Unknown errors go to ErrorHandler.
func writeError(c *fiber.Ctx, err error) error {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, domain.ErrInvalidSegment):
		status, code = 400, "invalid_segment"
	case errors.Is(err, domain.ErrInvalidInput):
		status, code = 400, "invalid_input"
	case errors.Is(err, domain.ErrNotFound):
		status, code = 404, "not_found"
	case errors.Is(err, domain.ErrSeatUnavailable):
		return c.Status(409).JSON(fiber.Map{
			"error":     "seat_unavailable",
			"message":   err.Error(),
			"conflicts": domain.Conflicts(err),
		})
	case errors.Is(err, domain.ErrAlreadyMaterialized):
		status, code = 409, "already_materialized"
	case errors.Is(err, domain.ErrBusTaken):
		status, code = 409, "bus_taken"
	case errors.Is(err, domain.ErrTripLocked):
		status, code = 409, "trip_locked"
	case errors.Is(err, materializer.ErrRunInProgress):
		status, code = 409, "run_in_progress"
	case errors.Is(err, domain.ErrCapacityExceeded):
		var ce domain.CapacityError
		if errors.As(err, &ce) {
			return c.Status(422).JSON(fiber.Map{
				"error":     "capacity_exceeded",
				"message":   err.Error(),
				"capacity":  ce.Capacity,
				"occupied":  ce.Occupied,
				"requested": ce.Requested,
			})
		}
		status, code = 422, "capacity_exceeded"
	case errors.Is(err, domain.ErrTripClosed):
		status, code = 422, "trip_closed"
	case errors.Is(err, domain.ErrHoldExpired):
		status, code = 422, "hold_expired"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, code = 422, "invalid_transition"
	case errors.Is(err, domain.ErrNoCompatibleBus):
		status, code = 422, "no_compatible_bus"
	default:
		return err
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": err.Error(),
	})
}

func tenantOf(c *fiber.Ctx) (string, error) {
	t, ok := middleware.Tenant(c)
	if !ok || t.TenantID == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "tenant not resolved")
	}
	return t.TenantID, nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidInput, s)
	}
	return d, nil
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, fmt.Errorf("%w: missing required parameter %s", domain.ErrInvalidInput, key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %s must be an integer", domain.ErrInvalidInput, key)
	}
	return n, nil
}

func badBody(err error) error {
	return fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidInput, err)
}
