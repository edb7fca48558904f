package topology

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/passbi/intercity/internal/models"
)

// StopSource loads the stops of one route
type StopSource interface {
	RouteStops(ctx context.Context, tenantID, routeID string) ([]models.Stop, error)
}

// Registry keeps validated topologies in memory. Topologies are read-only at booking
// time so lookups only take the read lock.
type Registry struct {
	mu     sync.RWMutex
	source StopSource
	routes map[string]*Topology // tenantID/routeID -> topology
}

func NewRegistry(source StopSource) *Registry {
	return &Registry{
		source: source,
		routes: make(map[string]*Topology),
	}
}

func key(tenantID, routeID string) string {
	return tenantID + "/" + routeID
}

// Get returns the cached topology or loads it from the source
func (r *Registry) Get(ctx context.Context, tenantID, routeID string) (*Topology, error) {
	r.mu.RLock()
	t, ok := r.routes[key(tenantID, routeID)]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	stops, err := r.source.RouteStops(ctx, tenantID, routeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stops for route %s: %w", routeID, err)
	}
	t, err = New(routeID, stops)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.routes[key(tenantID, routeID)] = t
	r.mu.Unlock()

	log.Printf("Loaded topology for route %s (%d stops)", routeID, len(stops))
	return t, nil
}

// StopsOf returns the ordered stops of a route
func (r *Registry) StopsOf(ctx context.Context, tenantID, routeID string) ([]models.Stop, error) {
	t, err := r.Get(ctx, tenantID, routeID)
	if err != nil {
		return nil, err
	}
	return t.Stops(), nil
}

// FareBetween returns the fare from one stop order to another on a route
func (r *Registry) FareBetween(ctx context.Context, tenantID, routeID string, from, to int) (int64, error) {
	t, err := r.Get(ctx, tenantID, routeID)
	if err != nil {
		return 0, err
	}
	return t.FareBetween(from, to)
}

// Invalidate drops a cached topology so the next lookup reloads it
func (r *Registry) Invalidate(tenantID, routeID string) {
	r.mu.Lock()
	delete(r.routes, key(tenantID, routeID))
	r.mu.Unlock()
}

// Len returns the number of cached topologies
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}
