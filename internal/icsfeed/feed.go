// Package icsfeed renders event class schedules as iCalendar feeds clients
// can subscribe to from their phone calendars.
package icsfeed

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/teambition/rrule-go"
)

const productID = "-//sportcrm//event calendar//EN"

// ErrNoSessions is returned for a class whose schedule never produces a
// session that a weekly rule can express.
var ErrNoSessions = errors.New("event class has no weekly sessions")

var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://sportcrm/event-classes"))

// Class is what the feed needs to know about one event class.
type Class struct {
	TenantID string
	ID       string
	Name     string
	Location string
	Schedule calendar.Schedule
	Canceled []time.Time // session dates called off
}

// UID is stable for a class across renders so calendar apps update the
// event in place instead of duplicating it.
func UID(tenantID, eventClassID string) string {
	return uuid.NewSHA1(namespace, []byte(tenantID+"/"+eventClassID)).String()
}

// Render builds a VCALENDAR with one all-day recurring VEVENT per class.
// Canceled sessions become EXDATEs. now stamps DTSTAMP.
func Render(now time.Time, classes ...Class) (string, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	if len(classes) == 1 {
		cal.SetXWRCalName(classes[0].Name)
	}

	for _, c := range classes {
		if err := addClass(cal, now, c); err != nil {
			return "", fmt.Errorf("render %s: %w", c.ID, err)
		}
	}
	return cal.Serialize(), nil
}

func addClass(cal *ics.Calendar, now time.Time, c Class) error {
	s := c.Schedule
	if s.Recurrence.IsEmpty() {
		return ErrNoSessions
	}
	first, ok := firstSession(s)
	if !ok {
		return ErrNoSessions
	}

	var until time.Time
	if end, ok := s.Range.End.Get(); ok {
		until = end
	}
	rule, err := s.Recurrence.RRule(first, until)
	if err != nil {
		return err
	}

	event := cal.AddEvent(UID(c.TenantID, c.ID))
	event.SetDtStampTime(now.UTC())
	event.SetSummary(c.Name)
	if c.Location != "" {
		event.SetLocation(c.Location)
	}
	event.SetAllDayStartAt(first)
	event.SetAllDayEndAt(first.AddDate(0, 0, 1))
	event.AddRrule(ruleValue(rule))

	canceled := slices.Clone(c.Canceled)
	slices.SortFunc(canceled, func(a, b time.Time) int { return a.Compare(b) })
	for _, d := range slices.CompactFunc(canceled, func(a, b time.Time) bool { return a.Equal(b) }) {
		if !s.IsEventDay(d) {
			continue
		}
		event.AddExdate(calendar.Day(d).Format("20060102"), &ics.KeyValues{Key: "VALUE", Value: []string{"DATE"}})
	}
	return nil
}

// firstSession finds the first occurrence on or after the range start.
func firstSession(s calendar.Schedule) (time.Time, bool) {
	start := calendar.Day(s.Range.Start)
	seq, err := s.Occurrences(start, start.AddDate(0, 0, 6))
	if err != nil {
		return time.Time{}, false
	}
	for d := range seq {
		return d, true
	}
	return time.Time{}, false
}

// ruleValue strips the DTSTART line rrule-go prepends; the VEVENT carries
// its own DTSTART.
func ruleValue(r *rrule.RRule) string {
	s := r.String()
	if i := strings.LastIndex(s, "RRULE:"); i >= 0 {
		return s[i+len("RRULE:"):]
	}
	return s
}
