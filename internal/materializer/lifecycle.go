package materializer

import "github.com/passbi/intercity/internal/models"

var tripTransitions = map[models.TripState][]models.TripState{
	models.TripScheduled:  {models.TripInProgress, models.TripCancelled},
	models.TripInProgress: {models.TripCompleted},
}

// CanTransitionTrip reports whether a trip may move between lifecycle states.
// Only cancellation is ever stored; the other moves happen as the calendar turns.
func CanTransitionTrip(from, to models.TripState) bool {
	for _, s := range tripTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
