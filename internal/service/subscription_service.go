package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/mansoorceksport/sportcrm/internal/domain"
	"github.com/mansoorceksport/sportcrm/internal/ledger"
	"github.com/mansoorceksport/sportcrm/internal/telemetry"
	"github.com/oklog/ulid/v2"
	"github.com/samber/mo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// maxUpdateAttempts bounds reload-and-retry cycles after a version conflict
const maxUpdateAttempts = 3

var ErrNoVisitLimit = errors.New("subscription type must grant at least one visit")

// SubscriptionStatus is a subscription with its ledger flags as of today.
type SubscriptionStatus struct {
	*domain.ClientSubscription
	Active      bool `json:"active"`
	Expiring    bool `json:"expiring"`
	Overlapping bool `json:"overlapping"`
}

type SubscriptionService struct {
	typeRepo    domain.SubscriptionTypeRepository
	subRepo     domain.ClientSubscriptionRepository
	historyRepo domain.ExtensionHistoryRepository
	classRepo   domain.EventClassRepository
	eventRepo   domain.EventRepository
	tx          domain.Transactor
	metrics     *telemetry.Metrics
	now         func() time.Time
}

func NewSubscriptionService(
	typeRepo domain.SubscriptionTypeRepository,
	subRepo domain.ClientSubscriptionRepository,
	historyRepo domain.ExtensionHistoryRepository,
	classRepo domain.EventClassRepository,
	eventRepo domain.EventRepository,
	tx domain.Transactor,
	metrics *telemetry.Metrics,
) *SubscriptionService {
	return &SubscriptionService{
		typeRepo:    typeRepo,
		subRepo:     subRepo,
		historyRepo: historyRepo,
		classRepo:   classRepo,
		eventRepo:   eventRepo,
		tx:          tx,
		metrics:     metrics,
		now:         time.Now,
	}
}

func (s *SubscriptionService) today() time.Time {
	return calendar.Day(s.now())
}

// --- Subscription Types ---

func (s *SubscriptionService) CreateType(ctx context.Context, st *domain.SubscriptionType) error {
	if err := st.Plan.Validate(); err != nil {
		return err
	}
	if st.Plan.VisitLimit == 0 {
		return ErrNoVisitLimit
	}

	ids := slices.Compact(slices.Sorted(slices.Values(st.EventClassIDs)))
	if len(ids) == 0 {
		return domain.ErrEventClassNotFound
	}
	classes, err := s.classRepo.GetByIDs(ctx, st.TenantID, ids)
	if err != nil {
		return err
	}
	if len(classes) != len(ids) {
		return domain.ErrEventClassNotFound
	}
	st.EventClassIDs = ids

	return s.typeRepo.Create(ctx, st)
}

func (s *SubscriptionService) GetType(ctx context.Context, tenantID, id string) (*domain.SubscriptionType, error) {
	return s.typeRepo.GetByID(ctx, tenantID, id)
}

// --- Client Subscriptions ---

// Purchase sells a subscription of the given type. A zero purchase date
// means today.
func (s *SubscriptionService) Purchase(ctx context.Context, tenantID, clientID, typeID string, purchase time.Time) (*domain.ClientSubscription, error) {
	st, err := s.typeRepo.GetByID(ctx, tenantID, typeID)
	if err != nil {
		return nil, err
	}
	if purchase.IsZero() {
		purchase = s.now()
	}

	p, err := st.Plan.Compute(calendar.Day(purchase))
	if err != nil {
		return nil, fmt.Errorf("failed to compute subscription period: %w", err)
	}

	sub := &domain.ClientSubscription{
		TenantID:           tenantID,
		ClientID:           clientID,
		SubscriptionTypeID: st.ID,
		PurchaseDate:       calendar.Day(purchase),
		StartDate:          p.Start,
		EndDate:            p.End,
		VisitsLeft:         st.Plan.VisitLimit,
		PurchasedVisits:    st.Plan.VisitLimit,
		AttendedEventIDs:   []string{},
		Price:              st.Price,
	}
	if err := s.subRepo.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.metrics.Purchases.Add(ctx, 1, metric.WithAttributes(attribute.String("granularity", string(st.Plan.Granularity))))
	return sub, nil
}

func (s *SubscriptionService) Get(ctx context.Context, tenantID, id string) (*SubscriptionStatus, error) {
	ls, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	today := s.today()
	return &SubscriptionStatus{
		ClientSubscription: ls.sub,
		Active:             ls.ledger.IsActiveAt(today),
		Expiring:           ls.ledger.IsExpiring(today),
		Overlapping:        ls.ledger.IsOverlapping(today),
	}, nil
}

// History returns the extension records of a subscription, oldest first.
func (s *SubscriptionService) History(ctx context.Context, tenantID, id string) ([]*domain.ExtensionHistory, error) {
	if _, err := s.subRepo.GetByID(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.historyRepo.ListBySubscription(ctx, tenantID, id)
}

// RemainingEvents lists the sessions the client can still attend, at most
// one per visit left.
func (s *SubscriptionService) RemainingEvents(ctx context.Context, tenantID, id string) ([]domain.Occurrence, error) {
	ls, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	sessions := ls.ledger.RemainingEvents(s.today())
	out := make([]domain.Occurrence, 0, len(sessions))
	for _, session := range sessions {
		classID := ls.classIDs[session.Schedule]
		out = append(out, domain.Occurrence{
			EventClassID: classID,
			Date:         session.Date,
			EventID:      domain.EventKey(classID, session.Date),
		})
	}
	return out, nil
}

// MarkVisit spends one visit on the session of eventClassID held on date.
func (s *SubscriptionService) MarkVisit(ctx context.Context, tenantID, id, eventClassID string, date time.Time) (*domain.ClientSubscription, error) {
	sub, _, err := s.update(ctx, tenantID, id, func(ls *loadedSubscription) (mo.Option[ledger.Extension], error) {
		if err := s.checkSession(ctx, ls, eventClassID, date); err != nil {
			return mo.None[ledger.Extension](), err
		}
		return mo.None[ledger.Extension](), ls.ledger.MarkVisit(domain.EventKey(eventClassID, date))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.VisitsMarked.Add(ctx, 1)
	return sub, nil
}

// RestoreVisit gives back a visit marked in error.
func (s *SubscriptionService) RestoreVisit(ctx context.Context, tenantID, id, eventClassID string, date time.Time) (*domain.ClientSubscription, error) {
	sub, _, err := s.update(ctx, tenantID, id, func(ls *loadedSubscription) (mo.Option[ledger.Extension], error) {
		return mo.None[ledger.Extension](), ls.ledger.RestoreVisit(domain.EventKey(eventClassID, date))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.VisitsRestored.Add(ctx, 1)
	return sub, nil
}

// Extend grants addedVisits more visits and pushes the end date to the next
// session after it.
func (s *SubscriptionService) Extend(ctx context.Context, tenantID, id string, addedVisits int, reason string) (*domain.ClientSubscription, *domain.ExtensionHistory, error) {
	return s.update(ctx, tenantID, id, func(ls *loadedSubscription) (mo.Option[ledger.Extension], error) {
		return ls.ledger.ExtendDuration(addedVisits, reason)
	})
}

// ExtendByCancellation compensates a subscription for a called-off session.
// It returns a nil record when the subscription needed no change.
func (s *SubscriptionService) ExtendByCancellation(ctx context.Context, tenantID, id string, event ledger.CancelledEvent) (*domain.ExtensionHistory, error) {
	_, rec, err := s.update(ctx, tenantID, id, func(ls *loadedSubscription) (mo.Option[ledger.Extension], error) {
		return ls.ledger.ExtendByCancellation(event), nil
	})
	return rec, err
}

// RevokeCancellation undoes ExtendByCancellation for a session that is back
// on. It returns a nil record when there was nothing to revoke.
func (s *SubscriptionService) RevokeCancellation(ctx context.Context, tenantID, id, eventID string) (*domain.ExtensionHistory, error) {
	_, rec, err := s.update(ctx, tenantID, id, func(ls *loadedSubscription) (mo.Option[ledger.Extension], error) {
		return ls.ledger.RevokeCancellation(eventID), nil
	})
	return rec, err
}

// checkSession verifies the subscription covers eventClassID, that a
// session of it takes place on date and that date lies within the
// subscription period.
func (s *SubscriptionService) checkSession(ctx context.Context, ls *loadedSubscription, eventClassID string, date time.Time) error {
	i := slices.Index(ls.classIDs, eventClassID)
	if i < 0 {
		return domain.ErrClassNotIncluded
	}
	if !ls.schedules[i].IsEventDay(date) {
		return domain.ErrEventNotOnSchedule
	}
	if day := calendar.Day(date); day.Before(ls.sub.StartDate) || day.After(ls.sub.EndDate) {
		return domain.ErrOutsideSubscription
	}

	event, err := s.eventRepo.GetByClassAndDate(ctx, ls.sub.TenantID, eventClassID, date)
	switch {
	case errors.Is(err, domain.ErrEventNotFound):
		return nil
	case err != nil:
		return err
	case event.IsCanceled():
		return domain.ErrEventCanceled
	}
	return nil
}

// --- Loading and writing ---

// loadedSubscription is a subscription with its ledger rebuilt. classIDs and
// schedules are parallel; ledger sessions index into both.
type loadedSubscription struct {
	sub       *domain.ClientSubscription
	ledger    *ledger.Ledger
	classIDs  []string
	schedules []calendar.Schedule
}

func (s *SubscriptionService) load(ctx context.Context, tenantID, id string) (*loadedSubscription, error) {
	sub, err := s.subRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	st, err := s.typeRepo.GetByID(ctx, tenantID, sub.SubscriptionTypeID)
	if err != nil {
		return nil, err
	}
	classes, err := s.classRepo.GetByIDs(ctx, tenantID, st.EventClassIDs)
	if err != nil {
		return nil, err
	}
	history, err := s.historyRepo.ListBySubscription(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	ls := &loadedSubscription{sub: sub}
	for _, ec := range classes {
		sched, err := ec.Schedule()
		if err != nil {
			log.Printf("Warning: skipping event class %s with invalid schedule: %v", ec.ID, err)
			continue
		}
		ls.classIDs = append(ls.classIDs, ec.ID)
		ls.schedules = append(ls.schedules, sched)
	}
	ls.ledger = ledger.New(sub.LedgerState(history), ls.schedules...)
	return ls, nil
}

// update applies fn to a freshly loaded ledger and writes the result back
// with a compare-and-swap on the subscription version, reloading on
// conflict. The subscription and the extension fn returns are written in
// one transaction, so a failed history write leaves the subscription as it
// was. When fn changes nothing, nothing is written.
func (s *SubscriptionService) update(
	ctx context.Context,
	tenantID, id string,
	fn func(*loadedSubscription) (mo.Option[ledger.Extension], error),
) (*domain.ClientSubscription, *domain.ExtensionHistory, error) {
	for attempt := 1; ; attempt++ {
		ls, err := s.load(ctx, tenantID, id)
		if err != nil {
			return nil, nil, err
		}

		before := ls.ledger.State()
		ext, err := fn(ls)
		if err != nil {
			return nil, nil, err
		}
		after := ls.ledger.State()

		record, recorded := ext.Get()
		if !recorded && !stateChanged(before, after) {
			return ls.sub, nil, nil
		}

		ls.sub.ApplyLedger(after)
		var h *domain.ExtensionHistory
		if recorded {
			h = domain.NewExtensionHistory(ulid.Make().String(), ls.sub, record, s.now().UTC())
		}

		var saved domain.ClientSubscription
		err = s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
			// the driver may rerun this on transient errors
			saved = *ls.sub
			if err := s.subRepo.Update(txCtx, &saved); err != nil {
				return err
			}
			if h == nil {
				return nil
			}
			if err := s.historyRepo.Create(txCtx, h); err != nil {
				return fmt.Errorf("failed to record extension: %w", err)
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, domain.ErrVersionConflict) && attempt < maxUpdateAttempts {
				s.metrics.CASRetries.Add(ctx, 1)
				continue
			}
			if h != nil && !errors.Is(err, domain.ErrVersionConflict) {
				log.Printf("Error: subscription %s left unchanged, extension was not stored: %v", id, err)
			}
			return nil, nil, err
		}
		if h != nil {
			s.metrics.Extensions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(record.Kind))))
		}
		return &saved, h, nil
	}
}

func stateChanged(a, b ledger.State) bool {
	return !a.EndDate.Equal(b.EndDate) ||
		a.VisitsLeft != b.VisitsLeft ||
		!slices.Equal(a.Attended, b.Attended)
}
