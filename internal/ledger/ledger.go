// Package ledger tracks the mutable part of a client subscription: visits
// left, the end date and the append-only history of extensions.
//
// A Ledger is not safe for concurrent mutation. Callers must serialize
// MarkVisit, RestoreVisit, ExtendDuration, ExtendByCancellation and
// RevokeCancellation per subscription, typically through optimistic
// versioning of the persisted record.
package ledger

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/samber/mo"
)

// Common Errors
var (
	ErrInsufficientVisits = errors.New("subscription has no visits left")
	ErrDuplicateVisit     = errors.New("visit already marked for this event")
	ErrVisitNotMarked     = errors.New("no visit marked for this event")
	ErrInvalidVisits      = errors.New("added visits must not be negative")
	ErrMissingEventID     = errors.New("event id is required")
)

// Kind classifies an extension record.
type Kind string

const (
	KindManual       Kind = "manual"
	KindCancellation Kind = "cancellation"
	KindRevocation   Kind = "revocation"
)

// Extension is one audit entry. Entries are never modified once appended.
type Extension struct {
	Kind         Kind
	AddedVisits  int
	ExtendedFrom mo.Option[time.Time]
	ExtendedTo   mo.Option[time.Time]
	Reason       string
	EventID      string
}

// State is the persisted shape of a ledger.
type State struct {
	StartDate       time.Time
	EndDate         time.Time
	VisitsLeft      int
	PurchasedVisits int
	Attended        []string
	History         []Extension
}

// CancelledEvent identifies a session that will not take place.
type CancelledEvent struct {
	ID   string
	Name string
	Date time.Time
}

// Ledger applies visits and extensions to one subscription.
type Ledger struct {
	startDate  time.Time
	endDate    time.Time
	visitsLeft int
	purchased  int
	attended   map[string]struct{}
	history    []Extension
	schedules  []calendar.Schedule
}

// New restores a ledger from state. schedules are the recurrences the
// subscription grants access to.
func New(state State, schedules ...calendar.Schedule) *Ledger {
	attended := make(map[string]struct{}, len(state.Attended))
	for _, id := range state.Attended {
		attended[id] = struct{}{}
	}
	return &Ledger{
		startDate:  calendar.Day(state.StartDate),
		endDate:    calendar.Day(state.EndDate),
		visitsLeft: state.VisitsLeft,
		purchased:  state.PurchasedVisits,
		attended:   attended,
		history:    slices.Clone(state.History),
		schedules:  slices.Clone(schedules),
	}
}

// State snapshots the ledger. Attended IDs are sorted for stable storage.
func (l *Ledger) State() State {
	attended := make([]string, 0, len(l.attended))
	for id := range l.attended {
		attended = append(attended, id)
	}
	slices.Sort(attended)
	return State{
		StartDate:       l.startDate,
		EndDate:         l.endDate,
		VisitsLeft:      l.visitsLeft,
		PurchasedVisits: l.purchased,
		Attended:        attended,
		History:         slices.Clone(l.history),
	}
}

// StartDate is the first day the subscription covers.
func (l *Ledger) StartDate() time.Time {
	return l.startDate
}

// EndDate is the last day the subscription covers, extensions included.
func (l *Ledger) EndDate() time.Time {
	return l.endDate
}

// VisitsLeft is the current visit balance.
func (l *Ledger) VisitsLeft() int {
	return l.visitsLeft
}

// History returns a copy of the extension records, oldest first.
func (l *Ledger) History() []Extension {
	return slices.Clone(l.history)
}

// HasVisit reports whether a visit is marked for eventID.
func (l *Ledger) HasVisit(eventID string) bool {
	_, ok := l.attended[eventID]
	return ok
}

// Allotment is the most visits the subscription can ever hold: the
// purchased amount plus every visit granted by an extension.
func (l *Ledger) Allotment() int {
	total := l.purchased
	for _, e := range l.history {
		total += e.AddedVisits
	}
	return total
}

// NearestExtendedEndDate returns the first session after the current end
// date across all schedules, or the end date itself when no schedule has
// one left in its range.
func (l *Ledger) NearestExtendedEndDate() time.Time {
	var nearest mo.Option[time.Time]
	for _, s := range l.schedules {
		if end, ok := s.Range.End.Get(); ok && !calendar.Day(end).After(l.endDate) {
			continue
		}
		next, err := s.NearestTo(l.endDate)
		if err != nil {
			continue
		}
		if cur, ok := nearest.Get(); !ok || next.Before(cur) {
			nearest = mo.Some(next)
		}
	}
	return nearest.OrElse(l.endDate)
}

// ExtendDuration adds visits and pushes the end date to the next available
// session. Adding zero visits changes nothing and records nothing.
func (l *Ledger) ExtendDuration(addedVisits int, reason string) (mo.Option[Extension], error) {
	if addedVisits < 0 {
		return mo.None[Extension](), ErrInvalidVisits
	}
	if addedVisits == 0 {
		return mo.None[Extension](), nil
	}

	ext := Extension{
		Kind:        KindManual,
		AddedVisits: addedVisits,
		Reason:      reason,
	}
	if newEnd := l.NearestExtendedEndDate(); !newEnd.Equal(l.endDate) {
		ext.ExtendedFrom = mo.Some(l.endDate)
		ext.ExtendedTo = mo.Some(newEnd)
		l.endDate = newEnd
	}
	l.visitsLeft += addedVisits
	l.history = append(l.history, ext)
	return mo.Some(ext), nil
}

// ExtendByCancellation moves the end date to the next session so the client
// does not lose the cancelled one. Nothing is recorded when there is no
// later session or the event was already compensated.
func (l *Ledger) ExtendByCancellation(event CancelledEvent) mo.Option[Extension] {
	if last, ok := l.lastFor(event.ID); ok && last.Kind == KindCancellation {
		return mo.None[Extension]()
	}

	newEnd := l.NearestExtendedEndDate()
	if newEnd.Equal(l.endDate) {
		return mo.None[Extension]()
	}

	ext := Extension{
		Kind:         KindCancellation,
		ExtendedFrom: mo.Some(l.endDate),
		ExtendedTo:   mo.Some(newEnd),
		Reason:       cancellationReason(event),
		EventID:      event.ID,
	}
	l.endDate = newEnd
	l.history = append(l.history, ext)
	return mo.Some(ext)
}

// RevokeCancellation undoes the extension granted for a cancelled event
// that takes place after all. Cancellation extensions chain, each starting
// where the previous one ended, so the end date steps back one link to the
// latest chain start before it. When the end date is not on the chain (a
// manual extension moved it since) only the record is added.
func (l *Ledger) RevokeCancellation(eventID string) mo.Option[Extension] {
	last, ok := l.lastFor(eventID)
	if !ok || last.Kind != KindCancellation {
		return mo.None[Extension]()
	}

	ext := Extension{
		Kind:    KindRevocation,
		Reason:  fmt.Sprintf("event %s reactivated", eventID),
		EventID: eventID,
	}
	if prev, ok := l.previousLink(); ok {
		ext.ExtendedFrom = mo.Some(l.endDate)
		ext.ExtendedTo = mo.Some(prev)
		l.endDate = prev
	}
	l.history = append(l.history, ext)
	return mo.Some(ext)
}

func (l *Ledger) previousLink() (time.Time, bool) {
	var onChain bool
	var prev mo.Option[time.Time]
	for _, e := range l.history {
		if e.Kind != KindCancellation {
			continue
		}
		if to, ok := e.ExtendedTo.Get(); ok && to.Equal(l.endDate) {
			onChain = true
		}
		from, ok := e.ExtendedFrom.Get()
		if !ok || !from.Before(l.endDate) {
			continue
		}
		if cur, ok := prev.Get(); !ok || from.After(cur) {
			prev = mo.Some(from)
		}
	}
	if !onChain {
		return time.Time{}, false
	}
	return prev.Get()
}

// MarkVisit consumes one visit for eventID.
func (l *Ledger) MarkVisit(eventID string) error {
	if eventID == "" {
		return ErrMissingEventID
	}
	if _, ok := l.attended[eventID]; ok {
		return ErrDuplicateVisit
	}
	if l.visitsLeft <= 0 {
		return ErrInsufficientVisits
	}
	l.attended[eventID] = struct{}{}
	l.visitsLeft--
	return nil
}

// RestoreVisit gives back the visit consumed for eventID. The balance never
// grows past Allotment.
func (l *Ledger) RestoreVisit(eventID string) error {
	if _, ok := l.attended[eventID]; !ok {
		return ErrVisitNotMarked
	}
	delete(l.attended, eventID)
	if l.visitsLeft < l.Allotment() {
		l.visitsLeft++
	}
	return nil
}

// Session is a remaining occurrence. Schedule indexes the schedules the
// ledger was built with.
type Session struct {
	Date     time.Time
	Schedule int
}

// IsActiveAt reports whether day falls inside the subscription and visits
// are left to spend.
func (l *Ledger) IsActiveAt(day time.Time) bool {
	day = calendar.Day(day)
	return l.visitsLeft > 0 && !day.Before(l.startDate) && !day.After(l.endDate)
}

// expiringWithin is how many days before the end date a subscription counts
// as expiring.
const expiringWithin = 7

// IsExpiring reports whether the subscription ends within a week of today
// or has a single visit left.
func (l *Ledger) IsExpiring(today time.Time) bool {
	return calendar.DaysBetween(calendar.Day(today), l.endDate) <= expiringWithin || l.visitsLeft == 1
}

// RemainingEvents lists the sessions still ahead, from today (or the start
// date if later) through the end date, truncated to the visits left.
func (l *Ledger) RemainingEvents(today time.Time) []Session {
	sessions := l.sessionsFrom(today)
	if len(sessions) > l.visitsLeft {
		sessions = sessions[:max(l.visitsLeft, 0)]
	}
	return sessions
}

// IsOverlapping reports whether more visits are left than sessions remain,
// i.e. some visits can no longer be spent before the end date.
func (l *Ledger) IsOverlapping(today time.Time) bool {
	return l.visitsLeft > len(l.sessionsFrom(today))
}

func (l *Ledger) sessionsFrom(today time.Time) []Session {
	from := calendar.Day(today)
	if from.Before(l.startDate) {
		from = l.startDate
	}
	if from.After(l.endDate) {
		return nil
	}

	var sessions []Session
	for i, s := range l.schedules {
		seq, err := s.Occurrences(from, l.endDate)
		if err != nil {
			continue
		}
		for d := range seq {
			sessions = append(sessions, Session{Date: d, Schedule: i})
		}
	}
	slices.SortStableFunc(sessions, func(a, b Session) int {
		return a.Date.Compare(b.Date)
	})
	return sessions
}

func (l *Ledger) lastFor(eventID string) (Extension, bool) {
	if eventID == "" {
		return Extension{}, false
	}
	for i := len(l.history) - 1; i >= 0; i-- {
		if l.history[i].EventID == eventID {
			return l.history[i], true
		}
	}
	return Extension{}, false
}

func cancellationReason(event CancelledEvent) string {
	name := event.Name
	if name == "" {
		name = event.ID
	}
	if event.Date.IsZero() {
		return fmt.Sprintf("cancelled event %s", name)
	}
	return fmt.Sprintf("cancelled event %s on %s", name, event.Date.Format(time.DateOnly))
}
