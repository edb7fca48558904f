package materializer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/passbi/intercity/internal/models"
)

func ids(c []Candidate) []string {
	out := make([]string, len(c))
	for i, x := range c {
		out[i] = x.ID
	}
	return out
}

func TestFirstSelector(t *testing.T) {
	s := &FirstSelector{}
	in := []Candidate{{ID: "B3"}, {ID: "B1"}, {ID: "B2"}}

	assert.Equal(t, "first", s.Name())
	assert.Equal(t, []string{"B1", "B2", "B3"}, ids(s.Order(in)))
	assert.Equal(t, "B3", in[0].ID, "input left untouched")
}

func TestLeastUsedSelector(t *testing.T) {
	s := &LeastUsedSelector{}
	in := []Candidate{{ID: "B1", Uses: 4}, {ID: "B2", Uses: 1}, {ID: "B3", Uses: 1}}

	assert.True(t, s.UsesHistory())
	assert.Equal(t, []string{"B2", "B3", "B1"}, ids(s.Order(in)))
}

func TestRandomSelector(t *testing.T) {
	in := []Candidate{{ID: "B1"}, {ID: "B2"}, {ID: "B3"}, {ID: "B4"}}

	t.Run("Seeded order is reproducible", func(t *testing.T) {
		a := NewRandomSelector(42).Order(in)
		b := NewRandomSelector(42).Order(in)
		assert.Equal(t, ids(a), ids(b))
	})

	t.Run("Keeps every candidate", func(t *testing.T) {
		out := NewRandomSelector(7).Order(in)
		assert.ElementsMatch(t, ids(in), ids(out))
	})
}

func TestGetStrategy(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"first", "first"},
		{"least_used", "least_used"},
		{"random", "random"},
		{"unknown", "random"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetStrategy(tt.name).Name())
		})
	}
}

func TestCanTransitionTrip(t *testing.T) {
	assert.True(t, CanTransitionTrip(models.TripScheduled, models.TripCancelled))
	assert.True(t, CanTransitionTrip(models.TripScheduled, models.TripInProgress))
	assert.True(t, CanTransitionTrip(models.TripInProgress, models.TripCompleted))
	assert.False(t, CanTransitionTrip(models.TripInProgress, models.TripCancelled))
	assert.False(t, CanTransitionTrip(models.TripCompleted, models.TripCancelled))
	assert.False(t, CanTransitionTrip(models.TripCancelled, models.TripScheduled))
}
