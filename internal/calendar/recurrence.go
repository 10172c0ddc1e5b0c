// Package calendar expands weekly recurrence patterns into concrete dates.
//
// All dates handled here are calendar days: time.Time values at midnight
// UTC. Use Day to normalize arbitrary timestamps before passing them in.
package calendar

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Common errors
var (
	ErrInvalidWeekday = errors.New("weekday must be between 0 (monday) and 6 (sunday)")
	ErrInvalidRange   = errors.New("start of period is greater than end date")
	ErrOutOfRange     = errors.New("no occurrence within date range")
)

const daysInWeek = 7

// Recurrence is an immutable set of active weekdays, Monday = 0.
// The zero value is an empty recurrence that never occurs.
type Recurrence struct {
	days []int
}

// NewRecurrence normalizes days into ascending order and drops duplicates.
func NewRecurrence(days ...int) (Recurrence, error) {
	normalized := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || d >= daysInWeek {
			return Recurrence{}, fmt.Errorf("%w: got %d", ErrInvalidWeekday, d)
		}
		normalized = append(normalized, d)
	}
	slices.Sort(normalized)
	return Recurrence{days: slices.Compact(normalized)}, nil
}

// MustRecurrence is NewRecurrence for literals known to be valid.
func MustRecurrence(days ...int) Recurrence {
	r, err := NewRecurrence(days...)
	if err != nil {
		panic(err)
	}
	return r
}

// Days returns the active weekdays in ascending order.
func (r Recurrence) Days() []int {
	return slices.Clone(r.days)
}

// IsEmpty reports whether no weekday is active.
func (r Recurrence) IsEmpty() bool {
	return len(r.days) == 0
}

// Contains reports whether weekday (Monday = 0) is active.
func (r Recurrence) Contains(weekday int) bool {
	_, found := slices.BinarySearch(r.days, weekday)
	return found
}

// Gaps returns, for each active day, the number of days until the next
// active day, wrapping around the week. For [0, 2, 4] it returns [2, 2, 3].
func (r Recurrence) Gaps() []int {
	n := len(r.days)
	gaps := make([]int, n)
	for i := 0; i < n; i++ {
		if i == n-1 {
			gaps[i] = daysInWeek - r.days[i] + r.days[0]
		} else {
			gaps[i] = r.days[i+1] - r.days[i]
		}
	}
	return gaps
}

// String formats the active weekdays, e.g. "[0 2 4]".
func (r Recurrence) String() string {
	return fmt.Sprint(r.days)
}

// Weekday returns the weekday of t with Monday = 0.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % daysInWeek
}

// Day truncates t to midnight UTC of the same calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Date builds a calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns b - a in whole days.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
