package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSegment      = errors.New("invalid segment")
	ErrSeatUnavailable     = errors.New("seat unavailable")
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrAlreadyMaterialized = errors.New("already materialized")
	ErrNoCompatibleBus     = errors.New("no compatible bus")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrHoldExpired         = errors.New("hold expired")
	ErrTripClosed          = errors.New("trip closed for sales")
	ErrBusTaken            = errors.New("bus already assigned on date")
	ErrTripLocked          = errors.New("trip has sales")
	ErrInvalidInput        = errors.New("invalid input")
)

// SegmentError describes a malformed boarding/alighting pair
type SegmentError struct {
	From      int
	To        int
	LastOrder int
}

func (e SegmentError) Error() string {
	return fmt.Sprintf("invalid segment [%d,%d) on route with last stop %d", e.From, e.To, e.LastOrder)
}

func (e SegmentError) Unwrap() error { return ErrInvalidSegment }

// SeatConflict names one requested seat/segment that could not be sold
type SeatConflict struct {
	SeatID string `json:"seat_id"`
	From   int    `json:"from"`
	To     int    `json:"to"`
	Reason string `json:"reason"`
}

// SeatConflictError lists every conflicting item of an aborted sale
type SeatConflictError struct {
	TripID    string
	Conflicts []SeatConflict
}

func (e SeatConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s[%d,%d) %s", c.SeatID, c.From, c.To, c.Reason))
	}
	return fmt.Sprintf("seat unavailable on trip %s: %s", e.TripID, strings.Join(parts, "; "))
}

func (e SeatConflictError) Unwrap() error { return ErrSeatUnavailable }

// CapacityError signals an occupied counter that would pass capacity
type CapacityError struct {
	TripID    string
	Capacity  int
	Occupied  int
	Requested int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("trip %s: occupied %d + %d exceeds capacity %d", e.TripID, e.Occupied, e.Requested, e.Capacity)
}

func (e CapacityError) Unwrap() error { return ErrCapacityExceeded }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e TransitionError) Unwrap() error { return ErrInvalidTransition }

func NotFound(resource, id string) error {
	return NotFoundError{Resource: resource, ID: id}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Conflicts extracts seat conflicts from an aborted sale, if any
func Conflicts(err error) []SeatConflict {
	var target SeatConflictError
	if errors.As(err, &target) {
		return target.Conflicts
	}
	return nil
}
