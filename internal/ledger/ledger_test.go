package ledger

import (
	"testing"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = calendar.Date(2019, time.February, 25)

func day(offset int) time.Time {
	return monday.AddDate(0, 0, offset)
}

func schedule(from time.Time, to mo.Option[time.Time], days ...int) calendar.Schedule {
	return calendar.Schedule{
		Recurrence: calendar.MustRecurrence(days...),
		Range:      calendar.DateRange{Start: from, End: to},
	}
}

func everyDay(from time.Time, to mo.Option[time.Time]) calendar.Schedule {
	return schedule(from, to, 0, 1, 2, 3, 4, 5, 6)
}

func newLedger(end time.Time, visits int, schedules ...calendar.Schedule) *Ledger {
	return New(State{
		StartDate:       monday,
		EndDate:         end,
		VisitsLeft:      visits,
		PurchasedVisits: visits,
	}, schedules...)
}

func TestNearestExtendedEndDate(t *testing.T) {
	tests := []struct {
		days  []int
		delta int
	}{
		{[]int{0, 1, 2, 3, 4, 5, 6}, 1},
		{[]int{0}, 7},
		{[]int{1, 4}, 1},
		{[]int{0, 4}, 4},
	}
	end := day(7)
	for _, tt := range tests {
		l := newLedger(end, 8,
			schedule(monday, mo.None[time.Time](), tt.days...),
			schedule(monday, mo.None[time.Time](), tt.days...),
		)
		assert.Equal(t, end.AddDate(0, 0, tt.delta), l.NearestExtendedEndDate(), "days %v", tt.days)
	}
}

func TestNearestExtendedEndDateWithoutSchedules(t *testing.T) {
	l := newLedger(day(6), 8)
	assert.Equal(t, day(6), l.NearestExtendedEndDate())
}

func TestNearestExtendedEndDateForEndedSchedules(t *testing.T) {
	l := newLedger(day(9), 8,
		everyDay(monday, mo.Some(day(7))),
		everyDay(monday, mo.Some(day(7))),
	)
	assert.Equal(t, day(9), l.NearestExtendedEndDate())
}

func TestNearestExtendedEndDateForNoFutureEvents(t *testing.T) {
	// Mondays only, and both ranges close before the next Monday after a
	// Thursday end date.
	l := newLedger(day(10), 8,
		schedule(monday, mo.Some(day(13)), 0),
		schedule(monday, mo.Some(day(14)), 0),
	)
	assert.Equal(t, day(10), l.NearestExtendedEndDate())
}

func TestNearestExtendedEndDatePicksEarliestSchedule(t *testing.T) {
	l := newLedger(day(7), 8,
		schedule(monday, mo.None[time.Time](), 0),
		schedule(monday, mo.None[time.Time](), 2),
	)
	assert.Equal(t, day(9), l.NearestExtendedEndDate())
}

func TestExtendDurationWithNewEndDate(t *testing.T) {
	l := newLedger(day(6), 8, everyDay(monday, mo.None[time.Time]()))

	got, err := l.ExtendDuration(10, "TEST")
	require.NoError(t, err)

	ext, ok := got.Get()
	require.True(t, ok)
	assert.Equal(t, KindManual, ext.Kind)
	assert.Equal(t, 10, ext.AddedVisits)
	assert.Equal(t, "TEST", ext.Reason)
	assert.Equal(t, mo.Some(day(6)), ext.ExtendedFrom)
	assert.Equal(t, mo.Some(day(7)), ext.ExtendedTo)

	assert.Equal(t, 18, l.VisitsLeft())
	assert.Equal(t, day(7), l.EndDate())
	assert.Len(t, l.History(), 1)
}

func TestExtendDurationWithoutNewEndDate(t *testing.T) {
	l := newLedger(day(6), 8)

	got, err := l.ExtendDuration(10, "TEST")
	require.NoError(t, err)

	ext, ok := got.Get()
	require.True(t, ok)
	assert.Equal(t, 10, ext.AddedVisits)
	assert.True(t, ext.ExtendedFrom.IsAbsent())
	assert.True(t, ext.ExtendedTo.IsAbsent())

	assert.Equal(t, 18, l.VisitsLeft())
	assert.Equal(t, day(6), l.EndDate())
	assert.Len(t, l.History(), 1)
}

func TestExtendDurationZeroIsNoop(t *testing.T) {
	l := newLedger(day(6), 8, everyDay(monday, mo.None[time.Time]()))
	before := l.State()

	got, err := l.ExtendDuration(0, "TEST")
	require.NoError(t, err)
	assert.True(t, got.IsAbsent())
	assert.Equal(t, before, l.State())
	assert.Empty(t, l.History())
}

func TestExtendDurationRejectsNegative(t *testing.T) {
	l := newLedger(day(6), 8, everyDay(monday, mo.None[time.Time]()))
	before := l.State()

	_, err := l.ExtendDuration(-1, "TEST")
	assert.ErrorIs(t, err, ErrInvalidVisits)
	assert.Equal(t, before, l.State())
}

func TestExtendByCancellationNoFutureDate(t *testing.T) {
	// Monday sessions only and the range closes the day after the end date.
	l := newLedger(day(6), 8, schedule(monday, mo.Some(day(7)), 0))
	before := l.State()

	got := l.ExtendByCancellation(CancelledEvent{ID: "e1", Name: "Boxing", Date: day(1)})
	assert.True(t, got.IsAbsent())
	assert.Equal(t, before, l.State())
}

func TestExtendByCancellationWithFutureDate(t *testing.T) {
	l := newLedger(day(6), 8, everyDay(monday, mo.None[time.Time]()))

	got := l.ExtendByCancellation(CancelledEvent{ID: "e1", Name: "Boxing", Date: day(1)})
	ext, ok := got.Get()
	require.True(t, ok)

	assert.Equal(t, KindCancellation, ext.Kind)
	assert.Zero(t, ext.AddedVisits)
	assert.Equal(t, "e1", ext.EventID)
	assert.Equal(t, "cancelled event Boxing on 2019-02-26", ext.Reason)
	assert.Equal(t, mo.Some(day(6)), ext.ExtendedFrom)
	assert.Equal(t, mo.Some(day(7)), ext.ExtendedTo)

	assert.Equal(t, day(7), l.EndDate())
	assert.Equal(t, 8, l.VisitsLeft())
}

func TestExtendByCancellationTwiceForSameEvent(t *testing.T) {
	l := newLedger(day(6), 8, everyDay(monday, mo.None[time.Time]()))
	event := CancelledEvent{ID: "e1", Date: day(1)}

	require.True(t, l.ExtendByCancellation(event).IsPresent())
	assert.True(t, l.ExtendByCancellation(event).IsAbsent())
	assert.Equal(t, day(7), l.EndDate())

	require.True(t, l.ExtendByCancellation(CancelledEvent{ID: "e2", Date: day(2)}).IsPresent())
	assert.Equal(t, day(8), l.EndDate())
	assert.Len(t, l.History(), 2)
}

func TestRevokeCancellationNoChain(t *testing.T) {
	l := newLedger(day(0), 1, everyDay(calendar.Date(2019, time.January, 1), mo.None[time.Time]()))
	require.True(t, l.ExtendByCancellation(CancelledEvent{ID: "e1", Date: day(0)}).IsPresent())
	require.Equal(t, day(1), l.EndDate())

	got := l.RevokeCancellation("e1")
	ext, ok := got.Get()
	require.True(t, ok)
	assert.Equal(t, KindRevocation, ext.Kind)
	assert.Equal(t, mo.Some(day(1)), ext.ExtendedFrom)
	assert.Equal(t, mo.Some(day(0)), ext.ExtendedTo)
	assert.Equal(t, day(0), l.EndDate())
}

func TestRevokeCancellationWithChain(t *testing.T) {
	l := newLedger(day(0), 1, everyDay(calendar.Date(2019, time.January, 1), mo.None[time.Time]()))
	for i, id := range []string{"e1", "e2", "e3"} {
		require.True(t, l.ExtendByCancellation(CancelledEvent{ID: id, Date: day(i)}).IsPresent())
	}
	require.Equal(t, day(3), l.EndDate())

	require.True(t, l.RevokeCancellation("e1").IsPresent())
	assert.Equal(t, day(2), l.EndDate())

	require.True(t, l.RevokeCancellation("e3").IsPresent())
	assert.Equal(t, day(1), l.EndDate())

	require.True(t, l.RevokeCancellation("e2").IsPresent())
	assert.Equal(t, day(0), l.EndDate())
}

func TestRevokeCancellationTwiceIsNoop(t *testing.T) {
	l := newLedger(day(0), 1, everyDay(monday, mo.None[time.Time]()))
	require.True(t, l.ExtendByCancellation(CancelledEvent{ID: "e1"}).IsPresent())
	require.True(t, l.RevokeCancellation("e1").IsPresent())

	assert.True(t, l.RevokeCancellation("e1").IsAbsent())
	assert.True(t, l.RevokeCancellation("unknown").IsAbsent())
	assert.Len(t, l.History(), 2)

	// A revoked event can be compensated again.
	assert.True(t, l.ExtendByCancellation(CancelledEvent{ID: "e1"}).IsPresent())
	assert.Equal(t, day(1), l.EndDate())
}

func TestRevokeCancellationAfterManualExtensionKeepsEndDate(t *testing.T) {
	l := newLedger(day(0), 1, everyDay(monday, mo.None[time.Time]()))
	require.True(t, l.ExtendByCancellation(CancelledEvent{ID: "e1"}).IsPresent())
	_, err := l.ExtendDuration(2, "bonus")
	require.NoError(t, err)
	require.Equal(t, day(2), l.EndDate())

	ext, ok := l.RevokeCancellation("e1").Get()
	require.True(t, ok)
	assert.True(t, ext.ExtendedTo.IsAbsent())
	assert.Equal(t, day(2), l.EndDate())
}

func TestMarkVisit(t *testing.T) {
	l := newLedger(day(6), 2)

	require.NoError(t, l.MarkVisit("e1"))
	assert.Equal(t, 1, l.VisitsLeft())
	assert.True(t, l.HasVisit("e1"))

	assert.ErrorIs(t, l.MarkVisit("e1"), ErrDuplicateVisit)
	assert.Equal(t, 1, l.VisitsLeft())

	require.NoError(t, l.MarkVisit("e2"))
	assert.Zero(t, l.VisitsLeft())

	before := l.State()
	assert.ErrorIs(t, l.MarkVisit("e3"), ErrInsufficientVisits)
	assert.Equal(t, before, l.State())

	assert.ErrorIs(t, l.MarkVisit(""), ErrMissingEventID)
}

func TestRestoreVisit(t *testing.T) {
	l := newLedger(day(6), 2)
	require.NoError(t, l.MarkVisit("e1"))

	require.NoError(t, l.RestoreVisit("e1"))
	assert.Equal(t, 2, l.VisitsLeft())
	assert.False(t, l.HasVisit("e1"))

	assert.ErrorIs(t, l.RestoreVisit("e1"), ErrVisitNotMarked)
	assert.Equal(t, 2, l.VisitsLeft())
}

func TestRestoreVisitIsCappedByAllotment(t *testing.T) {
	// Stored balance already at the allotment, e.g. after a data fix.
	l := New(State{
		StartDate:       monday,
		EndDate:         day(6),
		VisitsLeft:      3,
		PurchasedVisits: 2,
		Attended:        []string{"e1"},
		History:         []Extension{{Kind: KindManual, AddedVisits: 1}},
	})
	require.Equal(t, 3, l.Allotment())

	require.NoError(t, l.RestoreVisit("e1"))
	assert.Equal(t, 3, l.VisitsLeft())
	assert.False(t, l.HasVisit("e1"))
}

func TestAllotmentCountsExtensions(t *testing.T) {
	l := newLedger(day(6), 4)
	_, err := l.ExtendDuration(3, "gift")
	require.NoError(t, err)
	l.ExtendByCancellation(CancelledEvent{ID: "e1"})
	assert.Equal(t, 7, l.Allotment())
}

func TestStateRoundTrip(t *testing.T) {
	l := newLedger(day(6), 3, everyDay(monday, mo.None[time.Time]()))
	require.NoError(t, l.MarkVisit("b"))
	require.NoError(t, l.MarkVisit("a"))
	l.ExtendByCancellation(CancelledEvent{ID: "e1"})

	state := l.State()
	assert.Equal(t, []string{"a", "b"}, state.Attended)

	restored := New(state, everyDay(monday, mo.None[time.Time]()))
	assert.Equal(t, state, restored.State())
	assert.ErrorIs(t, restored.MarkVisit("a"), ErrDuplicateVisit)
}

func TestRemainingEvents(t *testing.T) {
	jan1 := calendar.Date(2019, time.January, 1)
	jan31 := calendar.Date(2019, time.January, 31)
	tests := []struct {
		visits int
		want   int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{100, 14},
	}
	for _, tt := range tests {
		l := New(State{StartDate: jan1, EndDate: jan1.AddDate(0, 0, 6), VisitsLeft: tt.visits},
			everyDay(jan1, mo.Some(jan31)),
			everyDay(jan1, mo.Some(jan31)),
		)
		got := l.RemainingEvents(jan1)
		assert.Len(t, got, tt.want, "visits %d", tt.visits)
		for i := 1; i < len(got); i++ {
			assert.False(t, got[i].Date.Before(got[i-1].Date))
		}
	}
}

func TestRemainingEventsFromToday(t *testing.T) {
	l := newLedger(day(6), 10,
		schedule(monday, mo.None[time.Time](), 0, 2, 4),
		schedule(monday, mo.None[time.Time](), 2),
	)
	got := l.RemainingEvents(day(3))
	require.Len(t, got, 1)
	assert.Equal(t, Session{Date: day(4), Schedule: 0}, got[0])

	got = l.RemainingEvents(monday)
	require.Len(t, got, 4)
	assert.Equal(t, day(2), got[1].Date)
	assert.Equal(t, day(2), got[2].Date)
	assert.ElementsMatch(t, []int{0, 1}, []int{got[1].Schedule, got[2].Schedule})

	assert.Empty(t, l.RemainingEvents(day(7)))
}

func TestIsOverlapping(t *testing.T) {
	jan1 := calendar.Date(2019, time.January, 1)
	tests := []struct {
		visits int
		want   bool
	}{
		{0, false},
		{1, false},
		{7, false},
		{8, true},
		{100, true},
	}
	for _, tt := range tests {
		l := New(State{
			StartDate:  jan1,
			EndDate:    calendar.Date(2019, time.January, 31),
			VisitsLeft: tt.visits,
		}, everyDay(jan1, mo.Some(calendar.Date(2019, time.January, 7))))
		assert.Equal(t, tt.want, l.IsOverlapping(jan1), "visits %d", tt.visits)
	}
}

func TestIsActiveAt(t *testing.T) {
	jan := func(d int) time.Time { return calendar.Date(2019, time.January, d) }
	tests := []struct {
		start, end time.Time
		visits     int
		want       bool
	}{
		{jan(1), jan(7), 1, true},
		{jan(5), jan(7), 1, false},
		{jan(1), jan(3), 1, false},
		{jan(1), jan(7), 0, false},
	}
	for _, tt := range tests {
		l := New(State{StartDate: tt.start, EndDate: tt.end, VisitsLeft: tt.visits})
		assert.Equal(t, tt.want, l.IsActiveAt(jan(4)), "%s..%s visits %d", tt.start, tt.end, tt.visits)
	}
}

func TestIsExpiring(t *testing.T) {
	l := newLedger(day(6), 5)
	assert.False(t, l.IsExpiring(day(-2)))
	assert.True(t, l.IsExpiring(day(-1)))
	assert.True(t, l.IsExpiring(day(6)))

	single := newLedger(day(30), 1)
	assert.True(t, single.IsExpiring(monday))
}
