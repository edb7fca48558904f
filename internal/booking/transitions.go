package booking

import "github.com/passbi/intercity/internal/models"

var ticketTransitions = map[models.TicketStatus][]models.TicketStatus{
	models.TicketHeld:      {models.TicketConfirmed, models.TicketCancelled},
	models.TicketConfirmed: {models.TicketBoarded, models.TicketNoShow, models.TicketCancelled},
}

// CanTransition reports whether a ticket may move from one status to another.
// Boarded, no_show and cancelled are terminal.
func CanTransition(from, to models.TicketStatus) bool {
	for _, s := range ticketTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
