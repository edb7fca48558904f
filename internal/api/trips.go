package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/passbi/intercity/internal/clock"
	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/manifest"
	"github.com/passbi/intercity/internal/materializer"
	"github.com/passbi/intercity/internal/models"
)

// tripView adds the calendar state shown to sellers
type tripView struct {
	models.Trip
	DisplayState models.TripState `json:"display_state"`
}

func (h *Handler) view(t models.Trip) tripView {
	return tripView{Trip: t, DisplayState: t.DisplayState(clock.Today(h.clock))}
}

// RouteStops handles GET /v1/routes/:id/stops
func (h *Handler) RouteStops(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	stops, err := h.routes.StopsOf(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"route_id": c.Params("id"),
		"stops":    stops,
		"total":    len(stops),
	})
}

// RouteFare handles GET /v1/routes/:id/fare?from=0&to=3
func (h *Handler) RouteFare(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	from, err := queryInt(c, "from")
	if err != nil {
		return writeError(c, err)
	}
	to, err := queryInt(c, "to")
	if err != nil {
		return writeError(c, err)
	}

	topo, err := h.routes.Get(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	fare, err := topo.FareBetween(from, to)
	if err != nil {
		return writeError(c, err)
	}
	km, _ := topo.DistanceBetween(from, to)
	minutes, _ := topo.DurationBetween(from, to)

	return c.JSON(fiber.Map{
		"route_id":    c.Params("id"),
		"from":        from,
		"to":          to,
		"fare":        fare,
		"distance_km": km,
		"minutes":     minutes,
	})
}

type materializeRequest struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	ScheduleIDs []string `json:"schedule_ids"`
}

// MaterializeTrips handles POST /v1/trips/materialize. An empty range covers
// the configured horizon starting today.
func (h *Handler) MaterializeTrips(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req materializeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, badBody(err))
		}
	}

	start := clock.Today(h.clock)
	end := start.AddDate(0, 0, h.horizonDays-1)
	if req.From != "" {
		if start, err = parseDate(req.From); err != nil {
			return writeError(c, err)
		}
	}
	if req.To != "" {
		if end, err = parseDate(req.To); err != nil {
			return writeError(c, err)
		}
	}
	if end.Before(start) {
		return writeError(c, fmt.Errorf("%w: to %s is before from %s", domain.ErrInvalidInput,
			end.Format(dateLayout), start.Format(dateLayout)))
	}
	if !end.Before(start.AddDate(0, 0, h.horizonDays)) {
		return writeError(c, fmt.Errorf("%w: materialization range is limited to %d days", domain.ErrInvalidInput, h.horizonDays))
	}

	var schedules []models.Schedule
	for _, id := range req.ScheduleIDs {
		s, err := h.store.Schedule(c.UserContext(), tenantID, id)
		if err != nil {
			return writeError(c, err)
		}
		schedules = append(schedules, s)
	}

	summary, err := h.mat.MaterializeRange(c.UserContext(), tenantID, schedules, start, end)
	if err != nil {
		return writeError(c, err)
	}
	if summary.Gaps == nil {
		summary.Gaps = []materializer.Gap{}
	}
	return c.JSON(fiber.Map{
		"from":    start.Format(dateLayout),
		"to":      end.Format(dateLayout),
		"summary": summary,
	})
}

type createTripRequest struct {
	ScheduleID  string  `json:"schedule_id"`
	Date        string  `json:"date"`
	BusID       string  `json:"bus_id"`
	DriverID    *string `json:"driver_id"`
	AssistantID *string `json:"assistant_id"`
}

// CreateTrip handles POST /v1/trips
func (h *Handler) CreateTrip(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req createTripRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, badBody(err))
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return writeError(c, err)
	}

	trip, err := h.mat.CreateManual(c.UserContext(), tenantID, materializer.ManualTrip{
		ScheduleID:  req.ScheduleID,
		Date:        date,
		BusID:       req.BusID,
		DriverID:    req.DriverID,
		AssistantID: req.AssistantID,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(201).JSON(h.view(trip))
}

// ListTrips handles GET /v1/trips?date=2025-03-12
func (h *Handler) ListTrips(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	date := clock.Today(h.clock)
	if q := c.Query("date"); q != "" {
		if date, err = parseDate(q); err != nil {
			return writeError(c, err)
		}
	}

	trips, err := h.store.ListTrips(c.UserContext(), tenantID, date)
	if err != nil {
		return writeError(c, err)
	}
	views := make([]tripView, 0, len(trips))
	for _, t := range trips {
		views = append(views, h.view(t))
	}
	return c.JSON(fiber.Map{
		"date":  date.Format(dateLayout),
		"trips": views,
		"total": len(views),
	})
}

// GetTrip handles GET /v1/trips/:id
func (h *Handler) GetTrip(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	trip, err := h.store.GetTrip(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(h.view(trip))
}

// CancelTrip handles POST /v1/trips/:id/cancel
func (h *Handler) CancelTrip(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	trip, err := h.mat.CancelTrip(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(h.view(trip))
}

// ReassignBus handles PUT /v1/trips/:id/bus
func (h *Handler) ReassignBus(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req struct {
		BusID string `json:"bus_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, badBody(err))
	}
	if req.BusID == "" {
		return writeError(c, fmt.Errorf("%w: bus_id is required", domain.ErrInvalidInput))
	}

	trip, err := h.mat.ReassignBus(c.UserContext(), tenantID, c.Params("id"), req.BusID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(h.view(trip))
}

// Availability handles GET /v1/trips/:id/availability?from=0&to=2
func (h *Handler) Availability(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	from, err := queryInt(c, "from")
	if err != nil {
		return writeError(c, err)
	}
	to, err := queryInt(c, "to")
	if err != nil {
		return writeError(c, err)
	}

	seats, err := h.engine.CheckAvailability(c.UserContext(), tenantID, c.Params("id"), from, to)
	if err != nil {
		return writeError(c, err)
	}
	free := 0
	for _, s := range seats {
		if s.Free {
			free++
		}
	}
	return c.JSON(fiber.Map{
		"trip_id": c.Params("id"),
		"from":    from,
		"to":      to,
		"seats":   seats,
		"free":    free,
	})
}

// Manifest handles GET /v1/trips/:id/manifest.pdf
func (h *Handler) Manifest(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	data, err := manifest.Load(c.UserContext(), h.store, tenantID, c.Params("id"), h.clock.Now())
	if err != nil {
		return writeError(c, err)
	}
	pdf, filename, err := manifest.Render(data)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	c.Set(fiber.HeaderContentLength, strconv.Itoa(len(pdf)))
	c.Set("X-Generated-At", data.GeneratedAt.Format(time.RFC3339))
	return c.Send(pdf)
}
