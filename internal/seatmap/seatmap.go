package seatmap

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/passbi/intercity/internal/models"
)

// SeatSource loads the provisioned seats of a bus
type SeatSource interface {
	BusSeats(ctx context.Context, tenantID, busID string) ([]models.Seat, error)
}

// Resolver produces the ordered set of enabled seats of a bus. Seat maps do not
// change per trip, so resolved maps are cached until Invalidate is called.
type Resolver struct {
	mu     sync.RWMutex
	source SeatSource
	cache  map[string][]models.Seat
}

func NewResolver(source SeatSource) *Resolver {
	return &Resolver{
		source: source,
		cache:  make(map[string][]models.Seat),
	}
}

// Resolve returns the enabled seats ordered by floor, row, then column
func (r *Resolver) Resolve(ctx context.Context, tenantID, busID string) ([]models.Seat, error) {
	k := tenantID + "/" + busID

	r.mu.RLock()
	seats, ok := r.cache[k]
	r.mu.RUnlock()
	if ok {
		return seats, nil
	}

	all, err := r.source.BusSeats(ctx, tenantID, busID)
	if err != nil {
		return nil, fmt.Errorf("failed to load seats for bus %s: %w", busID, err)
	}
	seats = Order(all)

	r.mu.Lock()
	r.cache[k] = seats
	r.mu.Unlock()

	return seats, nil
}

// Index returns the enabled seats of a bus keyed by seat id
func (r *Resolver) Index(ctx context.Context, tenantID, busID string) (map[string]models.Seat, error) {
	seats, err := r.Resolve(ctx, tenantID, busID)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]models.Seat, len(seats))
	for _, s := range seats {
		idx[s.ID] = s
	}
	return idx, nil
}

func (r *Resolver) Invalidate(tenantID, busID string) {
	r.mu.Lock()
	delete(r.cache, tenantID+"/"+busID)
	r.mu.Unlock()
}

// Order filters out disabled seats and sorts the rest by floor, row and column
func Order(seats []models.Seat) []models.Seat {
	out := make([]models.Seat, 0, len(seats))
	for _, s := range seats {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Floor != b.Floor {
			return a.Floor < b.Floor
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Column < b.Column
	})
	return out
}
