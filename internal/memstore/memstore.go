// Package memstore holds in-memory implementations of the domain
// repositories for tests. Reads return copies, as a database would.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/mansoorceksport/sportcrm/internal/domain"
)

type EventClasses struct {
	mu    sync.Mutex
	items map[string]domain.EventClass
	seq   int
}

func NewEventClasses() *EventClasses {
	return &EventClasses{items: map[string]domain.EventClass{}}
}

func (m *EventClasses) Create(_ context.Context, ec *domain.EventClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ec.ID = fmt.Sprintf("ec%d", m.seq)
	m.items[ec.ID] = *ec
	return nil
}

func (m *EventClasses) GetByID(_ context.Context, tenantID, id string) (*domain.EventClass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ec, ok := m.items[id]
	if !ok || ec.TenantID != tenantID {
		return nil, domain.ErrEventClassNotFound
	}
	return &ec, nil
}

func (m *EventClasses) GetByIDs(ctx context.Context, tenantID string, ids []string) ([]*domain.EventClass, error) {
	var out []*domain.EventClass
	for _, id := range ids {
		if ec, err := m.GetByID(ctx, tenantID, id); err == nil {
			out = append(out, ec)
		}
	}
	return out, nil
}

func (m *EventClasses) ListByTenant(_ context.Context, tenantID string) ([]*domain.EventClass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.EventClass
	for _, ec := range m.items {
		if ec.TenantID == tenantID {
			out = append(out, &ec)
		}
	}
	slices.SortFunc(out, func(a, b *domain.EventClass) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *EventClasses) Update(_ context.Context, ec *domain.EventClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[ec.ID]
	if !ok || cur.TenantID != ec.TenantID {
		return domain.ErrEventClassNotFound
	}
	m.items[ec.ID] = *ec
	return nil
}

type Events struct {
	mu    sync.Mutex
	items map[string]domain.Event
	seq   int
}

func NewEvents() *Events {
	return &Events{items: map[string]domain.Event{}}
}

func eventKey(tenantID, classID string, date time.Time) string {
	return tenantID + "|" + domain.EventKey(classID, date)
}

func (m *Events) Save(_ context.Context, e *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Date = calendar.Day(e.Date)
	k := eventKey(e.TenantID, e.EventClassID, e.Date)
	if cur, ok := m.items[k]; ok {
		e.ID = cur.ID
	} else {
		m.seq++
		e.ID = fmt.Sprintf("ev%d", m.seq)
	}
	m.items[k] = *e
	return nil
}

func (m *Events) GetByClassAndDate(_ context.Context, tenantID, classID string, date time.Time) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[eventKey(tenantID, classID, date)]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return &e, nil
}

func (m *Events) ListByClass(_ context.Context, tenantID, classID string, from, to time.Time) ([]*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Event
	for _, e := range m.items {
		if e.TenantID == tenantID && e.EventClassID == classID && !e.Date.Before(calendar.Day(from)) && !e.Date.After(calendar.Day(to)) {
			out = append(out, &e)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Event) int { return a.Date.Compare(b.Date) })
	return out, nil
}

var ErrMiss = errors.New("cache miss")

type CalendarCache struct {
	mu          sync.Mutex
	data        map[string][]time.Time
	hits        int
	invalidated []string
}

// Hits counts served cache reads
func (m *CalendarCache) Hits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits
}

// Invalidated lists the classes dropped so far, in call order
func (m *CalendarCache) Invalidated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.invalidated)
}

func NewCalendarCache() *CalendarCache {
	return &CalendarCache{data: map[string][]time.Time{}}
}

func cacheKey(tenantID, classID string, from, to time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", tenantID, classID, from.Format(time.DateOnly), to.Format(time.DateOnly))
}

func (m *CalendarCache) GetOccurrences(_ context.Context, tenantID, classID string, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dates, ok := m.data[cacheKey(tenantID, classID, from, to)]
	if !ok {
		return nil, ErrMiss
	}
	m.hits++
	return slices.Clone(dates), nil
}

func (m *CalendarCache) SetOccurrences(_ context.Context, tenantID, classID string, from, to time.Time, dates []time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[cacheKey(tenantID, classID, from, to)] = slices.Clone(dates)
	return nil
}

func (m *CalendarCache) InvalidateEventClass(_ context.Context, tenantID, classID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := tenantID + ":" + classID + ":"
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	m.invalidated = append(m.invalidated, classID)
	return nil
}

type SubscriptionTypes struct {
	mu    sync.Mutex
	items map[string]domain.SubscriptionType
	seq   int
}

func NewSubscriptionTypes() *SubscriptionTypes {
	return &SubscriptionTypes{items: map[string]domain.SubscriptionType{}}
}

func (m *SubscriptionTypes) Create(_ context.Context, st *domain.SubscriptionType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	st.ID = fmt.Sprintf("st%d", m.seq)
	m.items[st.ID] = *st
	return nil
}

func (m *SubscriptionTypes) GetByID(_ context.Context, tenantID, id string) (*domain.SubscriptionType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.items[id]
	if !ok || st.TenantID != tenantID {
		return nil, domain.ErrSubscriptionTypeNotFound
	}
	return &st, nil
}

func (m *SubscriptionTypes) ListByEventClass(_ context.Context, tenantID, classID string) ([]*domain.SubscriptionType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SubscriptionType
	for _, st := range m.items {
		if st.TenantID == tenantID && slices.Contains(st.EventClassIDs, classID) {
			out = append(out, &st)
		}
	}
	return out, nil
}

type Subscriptions struct {
	mu    sync.Mutex
	items map[string]domain.ClientSubscription
	seq   int
	// Conflicts makes the next n updates lose the race to another writer
	Conflicts int
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{items: map[string]domain.ClientSubscription{}}
}

func (m *Subscriptions) Create(ctx context.Context, cs *domain.ClientSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	cs.ID = fmt.Sprintf("cs%d", m.seq)
	cs.Version = 1
	m.items[cs.ID] = clone(*cs)
	id := cs.ID
	journalFrom(ctx).record(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.items, id)
	})
	return nil
}

func clone(cs domain.ClientSubscription) domain.ClientSubscription {
	cs.AttendedEventIDs = slices.Clone(cs.AttendedEventIDs)
	return cs
}

func (m *Subscriptions) GetByID(_ context.Context, tenantID, id string) (*domain.ClientSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.items[id]
	if !ok || cs.TenantID != tenantID {
		return nil, domain.ErrSubscriptionNotFound
	}
	cs = clone(cs)
	return &cs, nil
}

func (m *Subscriptions) ListActiveByTypes(_ context.Context, tenantID string, typeIDs []string, day time.Time) ([]*domain.ClientSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day = calendar.Day(day)
	var out []*domain.ClientSubscription
	for _, cs := range m.items {
		if cs.TenantID == tenantID && slices.Contains(typeIDs, cs.SubscriptionTypeID) &&
			!day.Before(cs.StartDate) && !day.After(cs.EndDate) && cs.VisitsLeft > 0 {
			cs = clone(cs)
			out = append(out, &cs)
		}
	}
	slices.SortFunc(out, func(a, b *domain.ClientSubscription) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Subscriptions) Update(ctx context.Context, cs *domain.ClientSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[cs.ID]
	if !ok || cur.TenantID != cs.TenantID {
		return domain.ErrSubscriptionNotFound
	}
	if m.Conflicts > 0 {
		m.Conflicts--
		cur.Version++
		m.items[cs.ID] = cur
	}
	if cur.Version != cs.Version {
		return domain.ErrVersionConflict
	}
	cs.Version++
	m.items[cs.ID] = clone(*cs)
	journalFrom(ctx).record(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.items[cur.ID] = cur
	})
	return nil
}

// Get reads the stored record without tenant checks.
func (m *Subscriptions) Get(id string) domain.ClientSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.items[id])
}

type History struct {
	mu      sync.Mutex
	records []domain.ExtensionHistory
	// Fail is returned by Create when set
	Fail error
}

func NewHistory() *History {
	return &History{}
}

func (m *History) Create(ctx context.Context, records ...*domain.ExtensionHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		m.records = append(m.records, *r)
		ids = append(ids, r.ID)
	}
	journalFrom(ctx).record(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.records = slices.DeleteFunc(m.records, func(r domain.ExtensionHistory) bool {
			return slices.Contains(ids, r.ID)
		})
	})
	return nil
}

func (m *History) ListBySubscription(_ context.Context, tenantID, subID string) ([]*domain.ExtensionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ExtensionHistory
	for _, r := range m.records {
		if r.TenantID == tenantID && r.ClientSubscriptionID == subID {
			out = append(out, &r)
		}
	}
	return out, nil
}

func (m *History) SubscriptionIDsByEvent(_ context.Context, tenantID, eventID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, r := range m.records {
		if r.TenantID == tenantID && r.RelatedEventID == eventID && !slices.Contains(ids, r.ClientSubscriptionID) {
			ids = append(ids, r.ClientSubscriptionID)
		}
	}
	return ids, nil
}

type journalKey struct{}

// journal collects undo steps for the writes of one transaction.
type journal struct {
	mu   sync.Mutex
	undo []func()
}

func journalFrom(ctx context.Context) *journal {
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j
}

func (j *journal) record(undo func()) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.undo = append(j.undo, undo)
}

func (j *journal) rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// Transactor undoes the Subscriptions and History writes made through the
// context it hands to fn when fn fails.
type Transactor struct{}

func NewTransactor() *Transactor {
	return &Transactor{}
}

func (*Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}

var (
	_ domain.Transactor                   = (*Transactor)(nil)
	_ domain.EventClassRepository         = (*EventClasses)(nil)
	_ domain.EventRepository              = (*Events)(nil)
	_ domain.CalendarCache                = (*CalendarCache)(nil)
	_ domain.SubscriptionTypeRepository   = (*SubscriptionTypes)(nil)
	_ domain.ClientSubscriptionRepository = (*Subscriptions)(nil)
	_ domain.ExtensionHistoryRepository   = (*History)(nil)
)
