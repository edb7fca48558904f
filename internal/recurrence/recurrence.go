package recurrence

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/passbi/intercity/internal/models"
)

// WeekMask holds one bit per weekday, Monday first: bit 0 = Monday ... bit 6 = Sunday
type WeekMask uint8

const (
	Monday WeekMask = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	Weekdays WeekMask = Monday | Tuesday | Wednesday | Thursday | Friday
	Weekend  WeekMask = Saturday | Sunday
	AllDays  WeekMask = Weekdays | Weekend
)

// Bit returns the mask bit of a Go weekday
func Bit(d time.Weekday) WeekMask {
	// time.Weekday counts from Sunday = 0
	return WeekMask(1) << ((int(d) + 6) % 7)
}

// Has reports whether the weekday is set
func (m WeekMask) Has(d time.Weekday) bool {
	return m&Bit(d) != 0
}

// Valid reports whether the mask uses only the 7 weekday bits and at least one of them
func (m WeekMask) Valid() bool {
	return m != 0 && m&^AllDays == 0
}

// String renders the mask Monday first, e.g. "1111100"
func (m WeekMask) String() string {
	var b strings.Builder
	for i := 0; i < 7; i++ {
		if m&(1<<i) != 0 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// ParseWeekMask reads a 7 character 0/1 string, Monday first
func ParseWeekMask(s string) (WeekMask, error) {
	s = strings.TrimSpace(s)
	if len(s) != 7 {
		return 0, fmt.Errorf("week mask must have 7 characters, got %q", s)
	}
	var m WeekMask
	for i, c := range s {
		switch c {
		case '1':
			m |= 1 << i
		case '0':
		default:
			return 0, fmt.Errorf("invalid week mask character %q in %q", c, s)
		}
	}
	return m, nil
}

// Expand yields every date in [start, end] whose weekday bit is set in mask.
// The sequence is a pure function of its arguments and can be ranged over repeatedly.
func Expand(mask WeekMask, start, end time.Time) iter.Seq[time.Time] {
	first, last := models.DateOf(start), models.DateOf(end)
	return func(yield func(time.Time) bool) {
		if mask&AllDays == 0 {
			return
		}
		for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
			if !mask.Has(d.Weekday()) {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// ExpandSchedule expands an active schedule; inactive schedules yield nothing
func ExpandSchedule(s models.Schedule, start, end time.Time) iter.Seq[time.Time] {
	if !s.Active {
		return func(func(time.Time) bool) {}
	}
	return Expand(WeekMask(s.WeekMask), start, end)
}

// ParseTimeOfDay converts HH:MM or HH:MM:SS to seconds since midnight
func ParseTimeOfDay(timeStr string) (int, error) {
	if timeStr == "" {
		return 0, fmt.Errorf("empty time string")
	}

	parts := strings.Split(strings.TrimSpace(timeStr), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time format: %s", timeStr)
	}

	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid time format: %s", timeStr)
		}
		vals[i] = v
	}
	if vals[0] > 23 || vals[1] > 59 || vals[2] > 59 {
		return 0, fmt.Errorf("time out of range: %s", timeStr)
	}

	return vals[0]*3600 + vals[1]*60 + vals[2], nil
}

// FormatTimeOfDay renders seconds since midnight as HH:MM
func FormatTimeOfDay(secs int) string {
	return fmt.Sprintf("%02d:%02d", secs/3600, (secs%3600)/60)
}

// DepartureAt combines a service date with a time of day in loc
func DepartureAt(date time.Time, secs int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(time.Duration(secs) * time.Second)
}
