package api

import (
	"fmt"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/passbi/intercity/internal/clock"
	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/models"
)

const maxReportDays = 92

// OccupancyReport handles GET /v1/reports/occupancy?from=2025-03-01&to=2025-03-31
func (h *Handler) OccupancyReport(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}

	to := clock.Today(h.clock)
	from := to.AddDate(0, 0, -6)
	if q := c.Query("from"); q != "" {
		if from, err = parseDate(q); err != nil {
			return writeError(c, err)
		}
	}
	if q := c.Query("to"); q != "" {
		if to, err = parseDate(q); err != nil {
			return writeError(c, err)
		}
	}
	if to.Before(from) {
		return writeError(c, fmt.Errorf("%w: to is before from", domain.ErrInvalidInput))
	}
	if to.Sub(from).Hours()/24 >= maxReportDays {
		return writeError(c, fmt.Errorf("%w: report range is limited to %d days", domain.ErrInvalidInput, maxReportDays))
	}

	rows, err := h.store.OccupancyReport(c.UserContext(), tenantID, from, to)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []models.TripOccupancy{}
	}

	var capacity, occupied int
	var revenue int64
	for _, r := range rows {
		capacity += r.Capacity
		occupied += r.Occupied
		revenue += r.Revenue
	}
	load := 0.0
	if capacity > 0 {
		load = float64(occupied) / float64(capacity)
	}

	return c.JSON(fiber.Map{
		"trips": rows,
		"totals": fiber.Map{
			"trips":      len(rows),
			"capacity":   capacity,
			"occupied":   occupied,
			"revenue":    revenue,
			"load_ratio": load,
		},
		"period": fiber.Map{
			"from": from.Format(dateLayout),
			"to":   to.Format(dateLayout),
		},
	})
}

// UsageReport handles GET /v1/reports/usage?days=30
func (h *Handler) UsageReport(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	if h.usage == nil {
		return c.Status(503).JSON(fiber.Map{
			"error":   "usage_unavailable",
			"message": "Usage reporting requires the postgres store",
		})
	}

	days, err := strconv.Atoi(c.Query("days", "30"))
	if err != nil || days < 1 || days > 90 {
		days = 30
	}

	stats, err := h.usage.DailyUsage(c.UserContext(), tenantID, days)
	if err != nil {
		log.Printf("Failed to get usage stats: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "Failed to retrieve usage statistics",
		})
	}

	today := clock.Today(h.clock)
	return c.JSON(fiber.Map{
		"stats": stats,
		"period": fiber.Map{
			"days": days,
			"from": today.AddDate(0, 0, -days).Format(dateLayout),
			"to":   today.Format(dateLayout),
		},
	})
}
