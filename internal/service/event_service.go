package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/mansoorceksport/sportcrm/internal/domain"
	"github.com/mansoorceksport/sportcrm/internal/ledger"
	"golang.org/x/sync/errgroup"
)

// SubscriptionExtender applies cancellation changes to one subscription.
// *SubscriptionService implements it.
type SubscriptionExtender interface {
	ExtendByCancellation(ctx context.Context, tenantID, id string, event ledger.CancelledEvent) (*domain.ExtensionHistory, error)
	RevokeCancellation(ctx context.Context, tenantID, id, eventID string) (*domain.ExtensionHistory, error)
}

// FanOutResult summarizes a cancellation or reactivation across the
// affected subscriptions.
type FanOutResult struct {
	Event    *domain.Event `json:"event"`
	Checked  int           `json:"checked"`
	Extended int           `json:"extended"`
	Failed   int           `json:"failed"`
}

type EventService struct {
	classRepo   domain.EventClassRepository
	eventRepo   domain.EventRepository
	typeRepo    domain.SubscriptionTypeRepository
	subRepo     domain.ClientSubscriptionRepository
	historyRepo domain.ExtensionHistoryRepository
	extender    SubscriptionExtender
	fanOutLimit int
	now         func() time.Time
}

func NewEventService(
	classRepo domain.EventClassRepository,
	eventRepo domain.EventRepository,
	typeRepo domain.SubscriptionTypeRepository,
	subRepo domain.ClientSubscriptionRepository,
	historyRepo domain.ExtensionHistoryRepository,
	extender SubscriptionExtender,
	fanOutLimit int,
) *EventService {
	return &EventService{
		classRepo:   classRepo,
		eventRepo:   eventRepo,
		typeRepo:    typeRepo,
		subRepo:     subRepo,
		historyRepo: historyRepo,
		extender:    extender,
		fanOutLimit: max(fanOutLimit, 1),
		now:         time.Now,
	}
}

// Cancel calls off the session of eventClassID on date. With extending set,
// every subscription active that day whose type includes the class gets
// ExtendByCancellation. Cancelling an already canceled session keeps the
// original cancellation time and re-runs the extension, which is a no-op
// for subscriptions already compensated; this makes retries after a partial
// failure safe.
func (s *EventService) Cancel(ctx context.Context, tenantID, eventClassID string, date time.Time, withExtending bool) (*FanOutResult, error) {
	date = calendar.Day(date)
	ec, err := s.classRepo.GetByID(ctx, tenantID, eventClassID)
	if err != nil {
		return nil, err
	}
	sched, err := ec.Schedule()
	if err != nil {
		return nil, err
	}
	if !sched.IsEventDay(date) {
		return nil, domain.ErrEventNotOnSchedule
	}

	event, err := s.eventRepo.GetByClassAndDate(ctx, tenantID, eventClassID, date)
	if errors.Is(err, domain.ErrEventNotFound) {
		event = &domain.Event{TenantID: tenantID, EventClassID: eventClassID, Date: date}
	} else if err != nil {
		return nil, err
	}
	if event.CanceledAt == nil {
		now := s.now().UTC()
		event.CanceledAt = &now
	}
	event.CanceledWithExtending = event.CanceledWithExtending || withExtending
	if err := s.eventRepo.Save(ctx, event); err != nil {
		return nil, err
	}

	result := &FanOutResult{Event: event}
	if !withExtending {
		return result, nil
	}

	subs, err := s.affectedSubscriptions(ctx, tenantID, eventClassID, date)
	if err != nil {
		return result, err
	}

	cancelled := ledger.CancelledEvent{ID: event.Key(), Name: ec.Name, Date: date}
	err = s.fanOut(ctx, result, subs, func(ctx context.Context, subID string) (*domain.ExtensionHistory, error) {
		return s.extender.ExtendByCancellation(ctx, tenantID, subID, cancelled)
	})
	return result, err
}

// Reactivate puts a canceled session back on. Extensions granted for it are
// revoked when the session is today or later; past sessions keep them.
func (s *EventService) Reactivate(ctx context.Context, tenantID, eventClassID string, date time.Time) (*FanOutResult, error) {
	date = calendar.Day(date)
	event, err := s.eventRepo.GetByClassAndDate(ctx, tenantID, eventClassID, date)
	if err != nil {
		return nil, err
	}

	result := &FanOutResult{Event: event}
	if !event.IsCanceled() {
		return result, nil
	}

	extended := event.CanceledWithExtending
	event.CanceledAt = nil
	event.CanceledWithExtending = false
	if err := s.eventRepo.Save(ctx, event); err != nil {
		return nil, err
	}

	if !extended || date.Before(calendar.Day(s.now())) {
		return result, nil
	}

	subIDs, err := s.historyRepo.SubscriptionIDsByEvent(ctx, tenantID, event.Key())
	if err != nil {
		return result, err
	}
	err = s.fanOut(ctx, result, subIDs, func(ctx context.Context, subID string) (*domain.ExtensionHistory, error) {
		return s.extender.RevokeCancellation(ctx, tenantID, subID, event.Key())
	})
	return result, err
}

func (s *EventService) affectedSubscriptions(ctx context.Context, tenantID, eventClassID string, date time.Time) ([]string, error) {
	types, err := s.typeRepo.ListByEventClass(ctx, tenantID, eventClassID)
	if err != nil {
		return nil, err
	}
	typeIDs := make([]string, 0, len(types))
	for _, t := range types {
		typeIDs = append(typeIDs, t.ID)
	}

	subs, err := s.subRepo.ListActiveByTypes(ctx, tenantID, typeIDs, date)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	return ids, nil
}

// fanOut runs apply for every subscription with at most fanOutLimit in
// flight. One failing subscription does not stop the others; the first
// error is returned once all are done.
func (s *EventService) fanOut(
	ctx context.Context,
	result *FanOutResult,
	subIDs []string,
	apply func(ctx context.Context, subID string) (*domain.ExtensionHistory, error),
) error {
	var (
		g        errgroup.Group
		changed  atomic.Int64
		failures atomic.Int64
	)
	g.SetLimit(s.fanOutLimit)

	for _, id := range subIDs {
		g.Go(func() error {
			rec, err := apply(ctx, id)
			if err != nil {
				failures.Add(1)
				log.Printf("Error: failed to update subscription %s for event %s: %v", id, result.Event.Key(), err)
				return fmt.Errorf("subscription %s: %w", id, err)
			}
			if rec != nil {
				changed.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	result.Checked = len(subIDs)
	result.Extended = int(changed.Load())
	result.Failed = int(failures.Load())
	return err
}
