package api

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/passbi/intercity/internal/booking"
	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/models"
)

// CommitSale handles POST /v1/trips/:id/sales
//
// Body: {"items":[{"seat_id":"S1","from":0,"to":2,"passenger_ref":"..."}],"paid":false}
// Unpaid sales come back with hold_expires_at set.
func (h *Handler) CommitSale(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req booking.SaleRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, badBody(err))
	}
	if len(req.Items) == 0 {
		return writeError(c, fmt.Errorf("%w: a sale needs at least one item", domain.ErrInvalidInput))
	}

	sale, err := h.engine.CommitSale(c.UserContext(), tenantID, c.Params("id"), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(201).JSON(sale)
}

// ConfirmSale handles POST /v1/sales/:id/confirm
func (h *Handler) ConfirmSale(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	sale, err := h.engine.ConfirmSale(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(sale)
}

// GetSale handles GET /v1/sales/:id
func (h *Handler) GetSale(c *fiber.Ctx) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	sale, err := h.store.GetSale(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(sale)
}

type ticketOp func(ctx context.Context, tenantID, ticketID string) (models.Ticket, error)

func (h *Handler) ticketTransition(op ticketOp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err := tenantOf(c)
		if err != nil {
			return err
		}
		ticket, err := op(c.UserContext(), tenantID, c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(ticket)
	}
}

// CancelTicket handles POST /v1/tickets/:id/cancel
func (h *Handler) CancelTicket(c *fiber.Ctx) error {
	return h.ticketTransition(h.engine.CancelTicket)(c)
}

// BoardTicket handles POST /v1/tickets/:id/board
func (h *Handler) BoardTicket(c *fiber.Ctx) error {
	return h.ticketTransition(h.engine.MarkBoarded)(c)
}

// NoShowTicket handles POST /v1/tickets/:id/no-show
func (h *Handler) NoShowTicket(c *fiber.Ctx) error {
	return h.ticketTransition(h.engine.MarkNoShow)(c)
}
