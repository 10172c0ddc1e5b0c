package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/mansoorceksport/sportcrm/internal/domain"
	"github.com/mansoorceksport/sportcrm/internal/icsfeed"
)

const (
	// maxWindowDays caps a single occurrence query
	maxWindowDays = 366
	// feedHorizon bounds the canceled sessions looked up for open-ended
	// classes in a calendar feed.
	feedHorizon = 366
)

var ErrWindowTooLarge = errors.New("date window must not exceed 366 days")

type CalendarService struct {
	classRepo domain.EventClassRepository
	eventRepo domain.EventRepository
	cache     domain.CalendarCache
	now       func() time.Time
}

func NewCalendarService(classRepo domain.EventClassRepository, eventRepo domain.EventRepository, cache domain.CalendarCache) *CalendarService {
	return &CalendarService{
		classRepo: classRepo,
		eventRepo: eventRepo,
		cache:     cache,
		now:       time.Now,
	}
}

// --- Event Classes ---

func (s *CalendarService) CreateEventClass(ctx context.Context, ec *domain.EventClass) error {
	if err := normalizeEventClass(ec); err != nil {
		return err
	}
	return s.classRepo.Create(ctx, ec)
}

// UpdateEventClass replaces the schedule and details of a class. Cached
// calendars of the class are dropped.
func (s *CalendarService) UpdateEventClass(ctx context.Context, ec *domain.EventClass) error {
	if err := normalizeEventClass(ec); err != nil {
		return err
	}
	if err := s.classRepo.Update(ctx, ec); err != nil {
		return err
	}
	if err := s.cache.InvalidateEventClass(ctx, ec.TenantID, ec.ID); err != nil {
		log.Printf("Warning: failed to invalidate calendar cache for %s: %v", ec.ID, err)
	}
	return nil
}

func (s *CalendarService) GetEventClass(ctx context.Context, tenantID, id string) (*domain.EventClass, error) {
	return s.classRepo.GetByID(ctx, tenantID, id)
}

func (s *CalendarService) ListEventClasses(ctx context.Context, tenantID string) ([]*domain.EventClass, error) {
	return s.classRepo.ListByTenant(ctx, tenantID)
}

func normalizeEventClass(ec *domain.EventClass) error {
	ec.DateFrom = calendar.Day(ec.DateFrom)
	if ec.DateTo != nil {
		to := calendar.Day(*ec.DateTo)
		ec.DateTo = &to
	}
	sched, err := ec.Schedule()
	if err != nil {
		return err
	}
	ec.Days = sched.Recurrence.Days()
	return nil
}

// --- Occurrences ---

// Occurrences lists the session dates of a class within [from, to].
// Results are cached per class and window.
func (s *CalendarService) Occurrences(ctx context.Context, tenantID, eventClassID string, from, to time.Time) ([]time.Time, error) {
	from, to = calendar.Day(from), calendar.Day(to)
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}

	ec, err := s.classRepo.GetByID(ctx, tenantID, eventClassID)
	if err != nil {
		return nil, err
	}

	if dates, err := s.cache.GetOccurrences(ctx, tenantID, eventClassID, from, to); err == nil {
		return dates, nil
	}

	sched, err := ec.Schedule()
	if err != nil {
		return nil, err
	}
	seq, err := sched.Occurrences(from, to)
	if err != nil {
		return nil, err
	}
	dates := calendar.Collect(seq)
	if dates == nil {
		dates = []time.Time{}
	}

	if err := s.cache.SetOccurrences(ctx, tenantID, eventClassID, from, to, dates); err != nil {
		log.Printf("Warning: failed to cache occurrences for %s: %v", eventClassID, err)
	}
	return dates, nil
}

// Calendar annotates the occurrences in [from, to] with their stored
// events, flagging canceled sessions.
func (s *CalendarService) Calendar(ctx context.Context, tenantID, eventClassID string, from, to time.Time) ([]domain.Occurrence, error) {
	dates, err := s.Occurrences(ctx, tenantID, eventClassID, from, to)
	if err != nil {
		return nil, err
	}
	events, err := s.eventRepo.ListByClass(ctx, tenantID, eventClassID, from, to)
	if err != nil {
		return nil, err
	}

	byDate := make(map[time.Time]*domain.Event, len(events))
	for _, e := range events {
		byDate[calendar.Day(e.Date)] = e
	}

	out := make([]domain.Occurrence, 0, len(dates))
	for _, d := range dates {
		occ := domain.Occurrence{
			EventClassID: eventClassID,
			Date:         d,
			EventID:      domain.EventKey(eventClassID, d),
		}
		if e, ok := byDate[calendar.Day(d)]; ok {
			occ.Canceled = e.IsCanceled()
		}
		out = append(out, occ)
	}
	return out, nil
}

// Feed renders the classes as an iCalendar document with canceled sessions
// excluded.
func (s *CalendarService) Feed(ctx context.Context, tenantID string, eventClassIDs ...string) (string, error) {
	classes, err := s.classRepo.GetByIDs(ctx, tenantID, eventClassIDs)
	if err != nil {
		return "", err
	}
	if len(classes) == 0 {
		return "", domain.ErrEventClassNotFound
	}

	now := s.now()
	feed := make([]icsfeed.Class, 0, len(classes))
	for _, ec := range classes {
		sched, err := ec.Schedule()
		if err != nil {
			return "", err
		}

		to := calendar.Day(now).AddDate(0, 0, feedHorizon)
		if end, ok := sched.Range.End.Get(); ok {
			to = end
		}
		events, err := s.eventRepo.ListByClass(ctx, tenantID, ec.ID, sched.Range.Start, to)
		if err != nil {
			return "", err
		}
		var canceled []time.Time
		for _, e := range events {
			if e.IsCanceled() {
				canceled = append(canceled, e.Date)
			}
		}

		feed = append(feed, icsfeed.Class{
			TenantID: tenantID,
			ID:       ec.ID,
			Name:     ec.Name,
			Location: ec.Location,
			Schedule: sched,
			Canceled: canceled,
		})
	}
	return icsfeed.Render(now, feed...)
}

func checkWindow(from, to time.Time) error {
	if from.After(to) {
		return calendar.ErrInvalidRange
	}
	if calendar.DaysBetween(from, to) > maxWindowDays {
		return ErrWindowTooLarge
	}
	return nil
}
