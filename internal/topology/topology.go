package topology

import (
	"fmt"
	"sort"

	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/models"
)

// Topology is the validated, ordered stop sequence of one route
type Topology struct {
	RouteID string
	stops   []models.Stop
}

// New sorts the stops by order and checks the route invariants:
// orders are contiguous from 0 and cumulative values never decrease.
func New(routeID string, stops []models.Stop) (*Topology, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("route %s: need at least 2 stops, got %d", routeID, len(stops))
	}

	sorted := make([]models.Stop, len(stops))
	copy(sorted, stops)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for i, s := range sorted {
		if s.Order != i {
			return nil, fmt.Errorf("route %s: stop orders must be contiguous from 0, found %d at position %d", routeID, s.Order, i)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if s.CumDistanceKm < prev.CumDistanceKm || s.CumMinutes < prev.CumMinutes || s.CumFare < prev.CumFare {
			return nil, fmt.Errorf("route %s: cumulative values decrease at stop %d", routeID, i)
		}
	}

	return &Topology{RouteID: routeID, stops: sorted}, nil
}

// Stops returns a copy of the ordered stops
func (t *Topology) Stops() []models.Stop {
	out := make([]models.Stop, len(t.stops))
	copy(out, t.stops)
	return out
}

// LastOrder is the order index of the final stop
func (t *Topology) LastOrder() int {
	return len(t.stops) - 1
}

// ValidateSegment checks 0 <= from < to <= LastOrder
func (t *Topology) ValidateSegment(from, to int) error {
	last := t.LastOrder()
	if from < 0 || to > last || from >= to {
		return domain.SegmentError{From: from, To: to, LastOrder: last}
	}
	return nil
}

// FareBetween returns cumFare[to] - cumFare[from]
func (t *Topology) FareBetween(from, to int) (int64, error) {
	if err := t.ValidateSegment(from, to); err != nil {
		return 0, err
	}
	return t.stops[to].CumFare - t.stops[from].CumFare, nil
}

// DistanceBetween returns the kilometres travelled on the segment
func (t *Topology) DistanceBetween(from, to int) (float64, error) {
	if err := t.ValidateSegment(from, to); err != nil {
		return 0, err
	}
	return t.stops[to].CumDistanceKm - t.stops[from].CumDistanceKm, nil
}

// DurationBetween returns the scheduled minutes of the segment
func (t *Topology) DurationBetween(from, to int) (int, error) {
	if err := t.ValidateSegment(from, to); err != nil {
		return 0, err
	}
	return t.stops[to].CumMinutes - t.stops[from].CumMinutes, nil
}

// Stop returns the stop at an order index
func (t *Topology) Stop(order int) (models.Stop, bool) {
	if order < 0 || order >= len(t.stops) {
		return models.Stop{}, false
	}
	return t.stops[order], true
}
