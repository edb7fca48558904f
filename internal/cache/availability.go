package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/passbi/intercity/internal/models"
)

// GenerationKey is the counter bumped on every write to a trip's tickets
func GenerationKey(tenantID, tripID string) string {
	return fmt.Sprintf("avail:gen:%s:%s", tenantID, tripID)
}

// AvailabilityKey addresses one rendered segment query of one generation
func AvailabilityKey(tenantID, tripID string, gen int64, from, to int) string {
	return fmt.Sprintf("avail:%s:%s:%d:%d-%d", tenantID, tripID, gen, from, to)
}

// Availability caches seat availability in Redis. Entries are never deleted:
// bumping the generation makes them unreachable and the TTL reclaims them.
type Availability struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewAvailability(rdb *redis.Client, ttl time.Duration) *Availability {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Availability{rdb: rdb, ttl: ttl}
}

func (a *Availability) Generation(ctx context.Context, tenantID, tripID string) (int64, error) {
	gen, err := a.rdb.Get(ctx, GenerationKey(tenantID, tripID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func (a *Availability) GetAvailability(ctx context.Context, tenantID, tripID string, gen int64, from, to int) ([]models.SeatAvailability, bool) {
	data, err := a.rdb.Get(ctx, AvailabilityKey(tenantID, tripID, gen, from, to)).Bytes()
	if err != nil {
		return nil, false // miss or Redis down
	}

	var seats []models.SeatAvailability
	if err := json.Unmarshal(data, &seats); err != nil {
		return nil, false
	}
	return seats, true
}

func (a *Availability) SetAvailability(ctx context.Context, tenantID, tripID string, gen int64, from, to int, seats []models.SeatAvailability) {
	data, err := json.Marshal(seats)
	if err != nil {
		return
	}
	if err := a.rdb.Set(ctx, AvailabilityKey(tenantID, tripID, gen, from, to), data, a.ttl).Err(); err != nil {
		log.Printf("Warning: failed to cache availability for trip %s: %v", tripID, err)
	}
}

func (a *Availability) BumpGeneration(ctx context.Context, tenantID, tripID string) {
	if err := a.rdb.Incr(ctx, GenerationKey(tenantID, tripID)).Err(); err != nil {
		log.Printf("Warning: failed to bump availability generation for trip %s: %v", tripID, err)
	}
}

// Local is an in-process availability cache for single-node runs
type Local struct {
	mu      sync.RWMutex
	gens    map[string]int64
	entries map[string][]models.SeatAvailability
}

func NewLocal() *Local {
	return &Local{
		gens:    make(map[string]int64),
		entries: make(map[string][]models.SeatAvailability),
	}
}

func (l *Local) Generation(_ context.Context, tenantID, tripID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gens[GenerationKey(tenantID, tripID)], nil
}

func (l *Local) GetAvailability(_ context.Context, tenantID, tripID string, gen int64, from, to int) ([]models.SeatAvailability, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seats, ok := l.entries[AvailabilityKey(tenantID, tripID, gen, from, to)]
	if !ok {
		return nil, false
	}
	return append([]models.SeatAvailability(nil), seats...), true
}

func (l *Local) SetAvailability(_ context.Context, tenantID, tripID string, gen int64, from, to int, seats []models.SeatAvailability) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[AvailabilityKey(tenantID, tripID, gen, from, to)] = append([]models.SeatAvailability(nil), seats...)
}

// BumpGeneration also drops the stale entries since nothing expires them locally
func (l *Local) BumpGeneration(_ context.Context, tenantID, tripID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := GenerationKey(tenantID, tripID)
	old := l.gens[key]
	l.gens[key] = old + 1
	prefix := fmt.Sprintf("avail:%s:%s:%d:", tenantID, tripID, old)
	for k := range l.entries {
		if strings.HasPrefix(k, prefix) {
			delete(l.entries, k)
		}
	}
}
