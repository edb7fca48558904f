package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/passbi/intercity/internal/models"
)

type tripTx struct {
	tx   pgx.Tx
	trip models.Trip
}

func (t *tripTx) Trip() models.Trip {
	return t.trip
}

func (t *tripTx) OccupyingTickets(ctx context.Context) ([]models.Ticket, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE trip_id = $1 AND status IN `+occupyingStatusSQL, t.trip.ID)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (t *tripTx) Ticket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 AND trip_id = $2`, ticketID, t.trip.ID)
	tk, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, notFound(err, "ticket", ticketID)
	}
	return tk, nil
}

func (t *tripTx) Sale(ctx context.Context, saleID string) (models.Sale, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 AND trip_id = $2`, saleID, t.trip.ID)
	s, err := scanSale(row)
	if err != nil {
		return models.Sale{}, notFound(err, "sale", saleID)
	}
	return s, nil
}

func (t *tripTx) SaleTickets(ctx context.Context, saleID string) ([]models.Ticket, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE sale_id = $1 ORDER BY seat_id, board_order`, saleID)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (t *tripTx) InsertSale(ctx context.Context, s models.Sale) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sales (id, tenant_id, trip_id, payment_status, total_fare, hold_expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.TenantID, s.TripID, string(s.PaymentStatus), s.TotalFare, s.HoldExpiresAt, s.CreatedAt)
	return err
}

// InsertTickets sends all rows in one batch
func (t *tripTx) InsertTickets(ctx context.Context, tickets []models.Ticket) error {
	batch := &pgx.Batch{}
	for _, k := range tickets {
		batch.Queue(`
			INSERT INTO tickets (id, tenant_id, sale_id, trip_id, seat_id, board_order, alight_order,
				passenger_ref, fare, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, k.ID, k.TenantID, k.SaleID, k.TripID, k.SeatID, k.BoardOrder, k.AlightOrder,
			k.PassengerRef, k.Fare, string(k.Status), k.CreatedAt, k.UpdatedAt)
	}

	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < len(tickets); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("ticket %d: %w", i, err)
		}
	}
	return nil
}

func (t *tripTx) UpdateTicketStatus(ctx context.Context, ticketID string, status models.TicketStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tickets SET status = $1, updated_at = $2 WHERE id = $3 AND trip_id = $4
	`, string(status), at, ticketID, t.trip.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "ticket", ticketID)
	}
	return nil
}

func (t *tripTx) UpdateSalePayment(ctx context.Context, saleID string, status models.PaymentStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sales
		SET payment_status = $1,
			hold_expires_at = CASE WHEN $1 = 'pending' THEN hold_expires_at ELSE NULL END
		WHERE id = $2 AND trip_id = $3
	`, string(status), saleID, t.trip.ID)
	return err
}

func (t *tripTx) SetOccupied(ctx context.Context, occupied int) error {
	if _, err := t.tx.Exec(ctx, `UPDATE trips SET occupied = $1 WHERE id = $2`, occupied, t.trip.ID); err != nil {
		return err
	}
	t.trip.Occupied = occupied
	return nil
}

func (t *tripTx) MarkHasSales(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `UPDATE trips SET has_sales = TRUE WHERE id = $1`, t.trip.ID); err != nil {
		return err
	}
	t.trip.HasSales = true
	return nil
}
