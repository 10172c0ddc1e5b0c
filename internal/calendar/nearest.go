package calendar

import (
	"fmt"
	"time"

	"github.com/samber/mo"
)

// Nearest returns the first occurrence of rec strictly after ref.
//
// When rangeEnd is set and ref falls within the final week before it, only
// days later in the same week are eligible, so the result never lands in a
// week the range does not contain.
func Nearest(ref time.Time, rec Recurrence, rangeEnd mo.Option[time.Time]) (time.Time, error) {
	ref = Day(ref)

	end, bounded := rangeEnd.Get()
	if bounded {
		end = Day(end)
		if !ref.Before(end) {
			return time.Time{}, fmt.Errorf("%w: can't find next event for date in future", ErrOutOfRange)
		}
	}

	if rec.IsEmpty() {
		return time.Time{}, fmt.Errorf("%w: no days to look forward", ErrOutOfRange)
	}

	refDay := Weekday(ref)
	nearest := -1
	for _, d := range rec.days {
		if d > refDay {
			nearest = d
			break
		}
	}

	if bounded && DaysBetween(ref, end) < daysInWeek {
		if nearest < 0 {
			return time.Time{}, fmt.Errorf("%w: required day is out of event class date range", ErrOutOfRange)
		}
	} else if nearest < 0 {
		nearest = rec.days[0]
	}

	offset := daysInWeek
	if nearest != refDay {
		offset = ((nearest-refDay)%daysInWeek + daysInWeek) % daysInWeek
	}
	return ref.AddDate(0, 0, offset), nil
}
