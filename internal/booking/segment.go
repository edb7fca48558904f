package booking

import "github.com/passbi/intercity/internal/models"

// Segment is the half-open stop interval [Board, Alight) a ticket holds a seat for
type Segment struct {
	Board  int
	Alight int
}

// Overlaps reports whether two half-open intervals share any stop-to-stop leg.
// A passenger alighting at stop K and another boarding at K do not overlap.
func (s Segment) Overlaps(o Segment) bool {
	return s.Board < o.Alight && o.Board < s.Alight
}

func segmentOf(t models.Ticket) Segment {
	return Segment{Board: t.BoardOrder, Alight: t.AlightOrder}
}

// SeatFree reports whether no occupying ticket on seatID overlaps seg
func SeatFree(tickets []models.Ticket, seatID string, seg Segment) bool {
	return blocker(tickets, seatID, seg) == nil
}

func blocker(tickets []models.Ticket, seatID string, seg Segment) *models.Ticket {
	for i := range tickets {
		t := &tickets[i]
		if t.SeatID != seatID || !t.Status.Occupies() {
			continue
		}
		if segmentOf(*t).Overlaps(seg) {
			return t
		}
	}
	return nil
}

// occupiedSeats returns the set of seats held by at least one occupying ticket
func occupiedSeats(tickets []models.Ticket) map[string]bool {
	out := make(map[string]bool)
	for _, t := range tickets {
		if t.Status.Occupies() {
			out[t.SeatID] = true
		}
	}
	return out
}
