// Package period computes subscription validity windows from a purchase
// date, a duration in day/week/month/year units and a rounding flag.
package period

import (
	"errors"
	"fmt"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
)

// Common Errors
var (
	ErrInvalidDuration    = errors.New("duration must be a positive number of units")
	ErrUnknownGranularity = errors.New("unknown duration granularity")
	ErrInvalidVisitLimit  = errors.New("visit limit must not be negative")
)

// Granularity is the unit a subscription duration is counted in.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
	Year  Granularity = "year"
)

func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(s)
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
	return g, nil
}

func (g Granularity) Valid() bool {
	switch g {
	case Day, Week, Month, Year:
		return true
	}
	return false
}

// StartDate returns the first covered day for a purchase. With rounding the
// purchase date snaps down to the start of its unit.
func StartDate(purchase time.Time, g Granularity, rounding bool) time.Time {
	purchase = calendar.Day(purchase)
	if !rounding {
		return purchase
	}
	switch g {
	case Week:
		return purchase.AddDate(0, 0, -calendar.Weekday(purchase))
	case Month:
		return calendar.Date(purchase.Year(), purchase.Month(), 1)
	case Year:
		return calendar.Date(purchase.Year(), time.January, 1)
	}
	return purchase
}

// EndDate returns the last covered day, inclusive. With rounding the start
// is rounded first and the result snaps up to the end of its unit.
func EndDate(start time.Time, g Granularity, duration int, rounding bool) (time.Time, error) {
	if !g.Valid() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownGranularity, string(g))
	}
	if duration <= 0 {
		return time.Time{}, ErrInvalidDuration
	}

	start = StartDate(start, g, rounding)
	end := addUnits(start, g, duration).AddDate(0, 0, -1)
	if !rounding {
		return end, nil
	}

	switch g {
	case Week:
		return end.AddDate(0, 0, 6-calendar.Weekday(end)), nil
	case Month:
		return lastDayOfMonth(end.Year(), end.Month()), nil
	case Year:
		return calendar.Date(end.Year(), time.December, 31), nil
	}
	return end, nil
}

func addUnits(start time.Time, g Granularity, n int) time.Time {
	switch g {
	case Week:
		return start.AddDate(0, 0, 7*n)
	case Month:
		return addMonths(start, n)
	case Year:
		return addMonths(start, 12*n)
	}
	return start.AddDate(0, 0, n)
}

// addMonths steps whole months, clipping the day to the end of a shorter
// target month (Jan 31 + 1 month = Feb 28) instead of overflowing.
func addMonths(t time.Time, n int) time.Time {
	first := calendar.Date(t.Year(), t.Month(), 1).AddDate(0, n, 0)
	last := lastDayOfMonth(first.Year(), first.Month())
	if t.Day() > last.Day() {
		return last
	}
	return calendar.Date(first.Year(), first.Month(), t.Day())
}

func lastDayOfMonth(year int, month time.Month) time.Time {
	return calendar.Date(year, month+1, 1).AddDate(0, 0, -1)
}
