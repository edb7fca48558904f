package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passbi/intercity/internal/models"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "avail:gen:coop-1:T1", GenerationKey("coop-1", "T1"))
	assert.Equal(t, "avail:coop-1:T1:3:0-2", AvailabilityKey("coop-1", "T1", 3, 0, 2))
	assert.Equal(t, "lock:materialize:coop-1", LockKey("materialize:coop-1"))
}

func TestLocalGenerations(t *testing.T) {
	ctx := context.Background()
	c := NewLocal()
	seats := []models.SeatAvailability{{SeatID: "S1", Free: true}}

	gen, err := c.Generation(ctx, "coop-1", "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	c.SetAvailability(ctx, "coop-1", "T1", gen, 0, 2, seats)
	got, ok := c.GetAvailability(ctx, "coop-1", "T1", gen, 0, 2)
	require.True(t, ok)
	assert.Equal(t, seats, got)

	_, ok = c.GetAvailability(ctx, "coop-1", "T1", gen, 0, 1)
	assert.False(t, ok, "segment is part of the key")
	_, ok = c.GetAvailability(ctx, "coop-2", "T1", gen, 0, 2)
	assert.False(t, ok, "tenant is part of the key")

	c.BumpGeneration(ctx, "coop-1", "T1")
	next, _ := c.Generation(ctx, "coop-1", "T1")
	assert.Equal(t, int64(1), next)
	_, ok = c.GetAvailability(ctx, "coop-1", "T1", gen, 0, 2)
	assert.False(t, ok, "stale generation is dropped")
}

func TestRedisAvailability(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	tenant := "test-" + time.Now().Format("150405.000000")
	c := NewAvailability(rdb, time.Minute)
	seats := []models.SeatAvailability{{SeatID: "S1", Label: "1A", Free: false}}

	gen, err := c.Generation(ctx, tenant, "T1")
	require.NoError(t, err)
	c.SetAvailability(ctx, tenant, "T1", gen, 1, 3, seats)

	got, ok := c.GetAvailability(ctx, tenant, "T1", gen, 1, 3)
	require.True(t, ok)
	assert.Equal(t, seats, got)

	c.BumpGeneration(ctx, tenant, "T1")
	next, err := c.Generation(ctx, tenant, "T1")
	require.NoError(t, err)
	assert.Equal(t, gen+1, next)
	_, ok = c.GetAvailability(ctx, tenant, "T1", next, 1, 3)
	assert.False(t, ok)
}
