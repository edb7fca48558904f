package seatmap

import (
	"context"
	"testing"

	"github.com/passbi/intercity/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	calls int
	seats []models.Seat
}

func (s *stubSource) BusSeats(ctx context.Context, tenantID, busID string) ([]models.Seat, error) {
	s.calls++
	return s.seats, nil
}

func TestOrder(t *testing.T) {
	seats := []models.Seat{
		{ID: "upper-1", Floor: 2, Row: 1, Column: 1, Enabled: true},
		{ID: "2B", Floor: 1, Row: 2, Column: 2, Enabled: true},
		{ID: "1A", Floor: 1, Row: 1, Column: 1, Enabled: true},
		{ID: "1B", Floor: 1, Row: 1, Column: 2, Enabled: false},
		{ID: "2A", Floor: 1, Row: 2, Column: 1, Enabled: true},
	}

	ordered := Order(seats)
	ids := make([]string, len(ordered))
	for i, s := range ordered {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"1A", "2A", "2B", "upper-1"}, ids)
}

func TestResolverCaches(t *testing.T) {
	src := &stubSource{seats: []models.Seat{
		{ID: "1A", Row: 1, Column: 1, Enabled: true},
		{ID: "1B", Row: 1, Column: 2, Enabled: true},
	}}
	r := NewResolver(src)
	ctx := context.Background()

	seats, err := r.Resolve(ctx, "t1", "bus-1")
	require.NoError(t, err)
	assert.Len(t, seats, 2)

	idx, err := r.Index(ctx, "t1", "bus-1")
	require.NoError(t, err)
	assert.Contains(t, idx, "1B")
	assert.Equal(t, 1, src.calls)

	r.Invalidate("t1", "bus-1")
	_, err = r.Resolve(ctx, "t1", "bus-1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}
