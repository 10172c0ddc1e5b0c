package calendar

import (
	"iter"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"
)

// DateRange bounds a schedule. End is absent for open-ended schedules.
type DateRange struct {
	Start time.Time
	End   mo.Option[time.Time]
}

func (r DateRange) Validate() error {
	if end, ok := r.End.Get(); ok && Day(r.Start).After(Day(end)) {
		return ErrInvalidRange
	}
	return nil
}

// Contains reports whether day lies within the range, both ends inclusive.
// A zero Start is unbounded in the past.
func (r DateRange) Contains(day time.Time) bool {
	day = Day(day)
	if !r.Start.IsZero() && day.Before(Day(r.Start)) {
		return false
	}
	if end, ok := r.End.Get(); ok && day.After(Day(end)) {
		return false
	}
	return true
}

// Schedule is a recurrence active within a date range, e.g. boxing classes
// every Wednesday and Friday from September to May.
type Schedule struct {
	Recurrence Recurrence
	Range      DateRange
}

// IsEventDay reports whether a session can take place on day. A schedule
// without weekdays accepts any day inside its range.
func (s Schedule) IsEventDay(day time.Time) bool {
	if !s.Range.Contains(day) {
		return false
	}
	if s.Recurrence.IsEmpty() {
		return true
	}
	return s.Recurrence.Contains(Weekday(day))
}

// NearestTo returns the first session strictly after day.
func (s Schedule) NearestTo(day time.Time) (time.Time, error) {
	return Nearest(day, s.Recurrence, s.Range.End)
}

// Occurrences yields sessions in [from, to] clamped to the schedule range.
// A window entirely outside the range yields nothing.
func (s Schedule) Occurrences(from, to time.Time) (iter.Seq[time.Time], error) {
	from, to = Day(from), Day(to)
	if from.After(to) {
		return nil, ErrInvalidRange
	}
	if !s.Range.Start.IsZero() && from.Before(Day(s.Range.Start)) {
		from = Day(s.Range.Start)
	}
	if end, ok := s.Range.End.Get(); ok && to.After(Day(end)) {
		to = Day(end)
	}
	if from.After(to) {
		return func(func(time.Time) bool) {}, nil
	}
	return Generate(from, to, s.Recurrence)
}

var rruleWeekdays = [daysInWeek]rrule.Weekday{
	rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU,
}

// RRule renders the recurrence as a weekly RFC 5545 rule starting at
// dtstart. A zero until leaves the rule open-ended.
func (r Recurrence) RRule(dtstart, until time.Time) (*rrule.RRule, error) {
	byDay := make([]rrule.Weekday, 0, len(r.days))
	for _, d := range r.days {
		byDay = append(byDay, rruleWeekdays[d])
	}
	return rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Wkst:      rrule.MO,
		Byweekday: byDay,
		Dtstart:   Day(dtstart),
		Until:     until,
	})
}

// RRule renders the schedule's recurrence bounded by its own range.
func (s Schedule) RRule() (*rrule.RRule, error) {
	var until time.Time
	if end, ok := s.Range.End.Get(); ok {
		until = Day(end)
	}
	return s.Recurrence.RRule(s.Range.Start, until)
}
