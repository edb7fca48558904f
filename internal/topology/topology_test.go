package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/passbi/intercity/internal/domain"
	"github.com/passbi/intercity/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func abcStops() []models.Stop {
	return []models.Stop{
		{ID: "c", RouteID: "r1", CityName: "C", Order: 2, CumDistanceKm: 310, CumMinutes: 300, CumFare: 5000},
		{ID: "a", RouteID: "r1", CityName: "A", Order: 0},
		{ID: "b", RouteID: "r1", CityName: "B", Order: 1, CumDistanceKm: 120, CumMinutes: 120, CumFare: 2000},
	}
}

func TestNew(t *testing.T) {
	t.Run("Sorts stops by order", func(t *testing.T) {
		topo, err := New("r1", abcStops())
		require.NoError(t, err)
		stops := topo.Stops()
		assert.Equal(t, "A", stops[0].CityName)
		assert.Equal(t, "C", stops[2].CityName)
		assert.Equal(t, 2, topo.LastOrder())
	})

	t.Run("Rejects gap in orders", func(t *testing.T) {
		stops := abcStops()
		stops[0].Order = 3
		_, err := New("r1", stops)
		assert.Error(t, err)
	})

	t.Run("Rejects decreasing fare", func(t *testing.T) {
		stops := abcStops()
		stops[2].CumFare = 6000
		_, err := New("r1", stops)
		assert.Error(t, err)
	})

	t.Run("Rejects single stop", func(t *testing.T) {
		_, err := New("r1", abcStops()[:1])
		assert.Error(t, err)
	})
}

func TestFareBetween(t *testing.T) {
	topo, err := New("r1", abcStops())
	require.NoError(t, err)

	tests := []struct {
		name     string
		from, to int
		expected int64
		invalid  bool
	}{
		{"Origin to middle", 0, 1, 2000, false},
		{"Middle to end", 1, 2, 3000, false},
		{"Full route", 0, 2, 5000, false},
		{"Same stop", 1, 1, 0, true},
		{"Reversed", 2, 0, 0, true},
		{"Out of range", 0, 3, 0, true},
		{"Negative", -1, 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fare, err := topo.FareBetween(tt.from, tt.to)
			if tt.invalid {
				assert.True(t, errors.Is(err, domain.ErrInvalidSegment))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, fare)
		})
	}
}

func TestDistanceAndDuration(t *testing.T) {
	topo, err := New("r1", abcStops())
	require.NoError(t, err)

	km, err := topo.DistanceBetween(1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 190, km, 0.001)

	mins, err := topo.DurationBetween(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 120, mins)
}

type countingSource struct {
	calls int
	stops []models.Stop
}

func (s *countingSource) RouteStops(ctx context.Context, tenantID, routeID string) ([]models.Stop, error) {
	s.calls++
	return s.stops, nil
}

func TestRegistry(t *testing.T) {
	src := &countingSource{stops: abcStops()}
	reg := NewRegistry(src)
	ctx := context.Background()

	fare, err := reg.FareBetween(ctx, "t1", "r1", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), fare)

	stops, err := reg.StopsOf(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Len(t, stops, 3)
	assert.Equal(t, 1, src.calls, "second lookup should hit the cache")

	_, err = reg.StopsOf(ctx, "t2", "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "tenants do not share cache entries")

	reg.Invalidate("t1", "r1")
	_, err = reg.StopsOf(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}
