package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/samber/mo"
)

var (
	ErrEventClassNotFound = errors.New("event class not found")
	ErrEventNotFound      = errors.New("event not found")
	ErrEventNotOnSchedule = errors.New("date is not an event day for this class")
	ErrEventCanceled      = errors.New("event is canceled")
)

// EventClass is a recurring class a studio runs, e.g. "Boxing, Mon/Wed/Fri
// from September to May".
type EventClass struct {
	ID        string     `json:"id" bson:"_id,omitempty"`
	TenantID  string     `json:"tenant_id" bson:"tenant_id"`
	Name      string     `json:"name" bson:"name"`
	Location  string     `json:"location,omitempty" bson:"location,omitempty"`
	CoachID   string     `json:"coach_id,omitempty" bson:"coach_id,omitempty"`
	Days      []int      `json:"days" bson:"days"`           // Monday = 0
	DateFrom  time.Time  `json:"date_from" bson:"date_from"` // inclusive
	DateTo    *time.Time `json:"date_to,omitempty" bson:"date_to,omitempty"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

// Schedule converts the stored class into its recurrence and date range.
func (ec *EventClass) Schedule() (calendar.Schedule, error) {
	rec, err := calendar.NewRecurrence(ec.Days...)
	if err != nil {
		return calendar.Schedule{}, err
	}
	r := calendar.DateRange{Start: calendar.Day(ec.DateFrom), End: mo.None[time.Time]()}
	if ec.DateTo != nil {
		r.End = mo.Some(calendar.Day(*ec.DateTo))
	}
	if err := r.Validate(); err != nil {
		return calendar.Schedule{}, err
	}
	return calendar.Schedule{Recurrence: rec, Range: r}, nil
}

// Event is a single dated session of an EventClass. Sessions only get a
// record once something happens to them, such as a cancellation.
type Event struct {
	ID                    string     `json:"id" bson:"_id,omitempty"`
	TenantID              string     `json:"tenant_id" bson:"tenant_id"`
	EventClassID          string     `json:"event_class_id" bson:"event_class_id"`
	Date                  time.Time  `json:"date" bson:"date"`
	CanceledAt            *time.Time `json:"canceled_at,omitempty" bson:"canceled_at,omitempty"`
	CanceledWithExtending bool       `json:"canceled_with_extending" bson:"canceled_with_extending"`
	CreatedAt             time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" bson:"updated_at"`
}

func (e *Event) IsCanceled() bool {
	return e.CanceledAt != nil
}

// Key identifies the session in subscription ledgers.
func (e *Event) Key() string {
	return EventKey(e.EventClassID, e.Date)
}

// EventKey names a session by class and date. Visits and cancellations are
// recorded against it, so a session needs no stored Event to be attended.
func EventKey(eventClassID string, date time.Time) string {
	return eventClassID + "@" + calendar.Day(date).Format(time.DateOnly)
}

// ParseEventKey splits a key built by EventKey.
func ParseEventKey(key string) (eventClassID string, date time.Time, err error) {
	i := strings.LastIndex(key, "@")
	if i <= 0 {
		return "", time.Time{}, ErrInvalidID
	}
	date, err = time.Parse(time.DateOnly, key[i+1:])
	if err != nil {
		return "", time.Time{}, ErrInvalidID
	}
	return key[:i], date, nil
}

// Occurrence is a generated session date annotated with its stored state.
type Occurrence struct {
	EventClassID string    `json:"event_class_id"`
	Date         time.Time `json:"date"`
	EventID      string    `json:"event_id,omitempty"`
	Canceled     bool      `json:"canceled"`
}

// Repositories

type EventClassRepository interface {
	Create(ctx context.Context, ec *EventClass) error
	GetByID(ctx context.Context, tenantID, id string) (*EventClass, error)
	GetByIDs(ctx context.Context, tenantID string, ids []string) ([]*EventClass, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*EventClass, error)
	Update(ctx context.Context, ec *EventClass) error
}

type EventRepository interface {
	// Save upserts the event keyed on tenant, class and date.
	Save(ctx context.Context, event *Event) error
	GetByClassAndDate(ctx context.Context, tenantID, eventClassID string, date time.Time) (*Event, error)
	ListByClass(ctx context.Context, tenantID, eventClassID string, from, to time.Time) ([]*Event, error)
}

// CalendarCache stores generated occurrence dates per event class window.
type CalendarCache interface {
	GetOccurrences(ctx context.Context, tenantID, eventClassID string, from, to time.Time) ([]time.Time, error)
	SetOccurrences(ctx context.Context, tenantID, eventClassID string, from, to time.Time, dates []time.Time) error
	InvalidateEventClass(ctx context.Context, tenantID, eventClassID string) error
}
