package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDisplayState(t *testing.T) {
	today := time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		date   time.Time
		stored TripState
		want   TripState
	}{
		{"yesterday", time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), TripScheduled, TripCompleted},
		{"today", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), TripScheduled, TripInProgress},
		{"tomorrow", time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), TripScheduled, TripScheduled},
		{"cancelled stays cancelled", time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), TripCancelled, TripCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trip := Trip{Date: tt.date, State: tt.stored}
			assert.Equal(t, tt.want, trip.DisplayState(today))
		})
	}
}

func TestDateOfDropsClock(t *testing.T) {
	in := time.Date(2025, 3, 10, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), DateOf(in))
}
