package calendar

import (
	"errors"
	"iter"
	"slices"
	"time"

	"github.com/samber/mo"
)

// Generate returns the occurrences of rec in [start, stop], ascending.
//
// The sequence is computed lazily and holds no state between iterations, so
// it can be ranged over any number of times with identical results.
func Generate(start, stop time.Time, rec Recurrence) (iter.Seq[time.Time], error) {
	start, stop = Day(start), Day(stop)
	if start.After(stop) {
		return nil, ErrInvalidRange
	}

	return func(yield func(time.Time) bool) {
		if rec.IsEmpty() {
			return
		}

		current := start
		if !rec.Contains(Weekday(current)) {
			next, err := Nearest(current, rec, mo.Some(stop))
			if err != nil {
				return
			}
			current = next
		}

		// Rotate the gap ring so position 0 is the weekday we start on.
		gaps := rec.Gaps()
		idx, _ := slices.BinarySearch(rec.days, Weekday(current))

		for !current.After(stop) {
			if !yield(current) {
				return
			}
			current = current.AddDate(0, 0, gaps[idx])
			idx = (idx + 1) % len(gaps)
		}
	}, nil
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[time.Time]) []time.Time {
	if seq == nil {
		return nil
	}
	return slices.Collect(seq)
}

// RangeDays yields every calendar day in [start, stop).
func RangeDays(start, stop time.Time) (iter.Seq[time.Time], error) {
	start, stop = Day(start), Day(stop)
	if start.After(stop) {
		return nil, ErrInvalidRange
	}
	return func(yield func(time.Time) bool) {
		for d := start; d.Before(stop); d = d.AddDate(0, 0, 1) {
			if !yield(d) {
				return
			}
		}
	}, nil
}

// IsNoOccurrence reports whether err means no date could be found.
func IsNoOccurrence(err error) bool {
	return errors.Is(err, ErrOutOfRange)
}
