package network

import (
	"errors"
	"fmt"
	"log"

	"github.com/passbi/intercity/internal/models"
	"github.com/passbi/intercity/internal/recurrence"
	"github.com/passbi/intercity/internal/topology"
)

// StopsByRoute groups stops per route
func (n *Network) StopsByRoute() map[string][]models.Stop {
	out := make(map[string][]models.Stop)
	for _, s := range n.Stops {
		out[s.RouteID] = append(out[s.RouteID], s)
	}
	return out
}

// SeatsByBus groups seats per bus
func (n *Network) SeatsByBus() map[string][]models.Seat {
	out := make(map[string][]models.Seat)
	for _, s := range n.Seats {
		out[s.BusID] = append(out[s.BusID], s)
	}
	return out
}

// Validate checks cross-file references and route topologies. All problems are
// reported together.
func (n *Network) Validate() error {
	var errs []error

	routes := make(map[string]models.Route, len(n.Routes))
	for _, r := range n.Routes {
		if _, dup := routes[r.ID]; dup {
			errs = append(errs, fmt.Errorf("route %s: duplicate id", r.ID))
		}
		if r.Category == "" {
			errs = append(errs, fmt.Errorf("route %s: category is required", r.ID))
		}
		routes[r.ID] = r
	}

	stops := n.StopsByRoute()
	for routeID, list := range stops {
		if _, ok := routes[routeID]; !ok {
			errs = append(errs, fmt.Errorf("stops reference unknown route %s", routeID))
			continue
		}
		if _, err := topology.New(routeID, list); err != nil {
			errs = append(errs, err)
		}
	}
	for id := range routes {
		if len(stops[id]) == 0 {
			errs = append(errs, fmt.Errorf("route %s: no stops", id))
		}
	}

	for _, s := range n.Schedules {
		if _, ok := routes[s.RouteID]; !ok {
			errs = append(errs, fmt.Errorf("schedule %s: unknown route %s", s.ID, s.RouteID))
		}
		if !recurrence.WeekMask(s.WeekMask).Valid() {
			errs = append(errs, fmt.Errorf("schedule %s: empty week mask", s.ID))
		}
	}

	buses := make(map[string]models.Bus, len(n.Buses))
	for _, b := range n.Buses {
		if b.TotalSeats <= 0 {
			errs = append(errs, fmt.Errorf("bus %s: total_seats must be positive", b.ID))
		}
		buses[b.ID] = b
	}

	seats := n.SeatsByBus()
	for busID, list := range seats {
		b, ok := buses[busID]
		if !ok {
			errs = append(errs, fmt.Errorf("seats reference unknown bus %s", busID))
			continue
		}
		ids := make(map[string]bool, len(list))
		enabled := 0
		for _, s := range list {
			if ids[s.ID] {
				errs = append(errs, fmt.Errorf("bus %s: duplicate seat %s", busID, s.ID))
			}
			ids[s.ID] = true
			if s.Enabled {
				enabled++
			}
		}
		if enabled != b.TotalSeats {
			log.Printf("Warning: bus %s has %d enabled seats but total_seats=%d", busID, enabled, b.TotalSeats)
		}
	}
	for id := range buses {
		if len(seats[id]) == 0 {
			errs = append(errs, fmt.Errorf("bus %s: no seat map", id))
		}
	}

	return errors.Join(errs...)
}
