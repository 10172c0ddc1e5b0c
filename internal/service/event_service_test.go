package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/mansoorceksport/sportcrm/internal/domain"
	"github.com/mansoorceksport/sportcrm/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	canceledDay = calendar.Date(2019, time.February, 27)
	originalEnd = calendar.Date(2019, time.March, 19)
	extendedEnd = calendar.Date(2019, time.March, 20)
)

func TestCancelWithExtending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.purchase(t)
	other := f.purchase(t)

	res, err := f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, canceledDay, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 2, res.Extended)
	assert.Zero(t, res.Failed)
	assert.True(t, res.Event.IsCanceled())
	assert.True(t, res.Event.CanceledWithExtending)

	for _, id := range []string{sub.ID, other.ID} {
		assert.Equal(t, extendedEnd, f.subs.Get(id).EndDate)
	}

	history, err := f.subSvc.History(ctx, tenant, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	rec := history[0]
	assert.Equal(t, string(ledger.KindCancellation), rec.Kind)
	assert.Equal(t, "cancelled event Boxing on 2019-02-27", rec.Reason)
	assert.Equal(t, domain.EventKey(f.boxing.ID, canceledDay), rec.RelatedEventID)
	assert.Equal(t, originalEnd, *rec.ExtendedFrom)
	assert.Equal(t, extendedEnd, *rec.ExtendedTo)
}

func TestCancelTwiceExtendsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.purchase(t)

	first, err := f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, canceledDay, true)
	require.NoError(t, err)
	canceledAt := *first.Event.CanceledAt

	f.setNow(purchaseDay.Add(30 * time.Hour))
	res, err := f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, canceledDay, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Zero(t, res.Extended)
	assert.Equal(t, canceledAt, *res.Event.CanceledAt)
	assert.Equal(t, first.Event.ID, res.Event.ID)

	assert.Equal(t, extendedEnd, f.subs.Get(sub.ID).EndDate)
	history, _ := f.subSvc.History(ctx, tenant, sub.ID)
	assert.Len(t, history, 1)
}

func TestCancelWithoutExtending(t *testing.T) {
	f := newFixture(t)
	sub := f.purchase(t)

	res, err := f.eventSvc.Cancel(context.Background(), tenant, f.boxing.ID, canceledDay, false)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
	assert.Equal(t, originalEnd, f.subs.Get(sub.ID).EndDate)
}

func TestCancelSkipsUnrelatedSubscriptions(t *testing.T) {
	f := newFixture(t)
	sub := f.purchase(t)

	// Yoga is not part of the monthly boxing plan
	res, err := f.eventSvc.Cancel(context.Background(), tenant, f.yoga.ID, calendar.Date(2019, time.February, 26), true)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
	assert.Equal(t, originalEnd, f.subs.Get(sub.ID).EndDate)
}

func TestCancelRejectsNonEventDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, calendar.Date(2019, time.February, 26), true)
	assert.ErrorIs(t, err, domain.ErrEventNotOnSchedule)

	_, err = f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, calendar.Date(2018, time.December, 31), true)
	assert.ErrorIs(t, err, domain.ErrEventNotOnSchedule)

	_, err = f.eventSvc.Cancel(ctx, tenant, "missing", canceledDay, true)
	assert.ErrorIs(t, err, domain.ErrEventClassNotFound)
}

func TestCancelRetryAfterHistoryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.purchase(t)

	f.history.Fail = errors.New("disk full")
	res, err := f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, canceledDay, true)
	require.Error(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, originalEnd, f.subs.Get(sub.ID).EndDate)
	assert.EqualValues(t, 1, f.subs.Get(sub.ID).Version)

	f.history.Fail = nil
	res, err = f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, canceledDay, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Extended)
	assert.Equal(t, extendedEnd, f.subs.Get(sub.ID).EndDate)

	history, err := f.subSvc.History(ctx, tenant, sub.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// failingExtender fails for one subscription and delegates the rest.
type failingExtender struct {
	SubscriptionExtender
	failFor string
}

func (e failingExtender) ExtendByCancellation(ctx context.Context, tenantID, id string, event ledger.CancelledEvent) (*domain.ExtensionHistory, error) {
	if id == e.failFor {
		return nil, errors.New("boom")
	}
	return e.SubscriptionExtender.ExtendByCancellation(ctx, tenantID, id, event)
}

func TestCancelFanOutPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subs := []*domain.ClientSubscription{f.purchase(t), f.purchase(t), f.purchase(t)}

	f.eventSvc.extender = failingExtender{SubscriptionExtender: f.subSvc, failFor: subs[1].ID}
	res, err := f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, canceledDay, true)
	require.Error(t, err)
	assert.ErrorContains(t, err, subs[1].ID)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 2, res.Extended)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, originalEnd, f.subs.Get(subs[1].ID).EndDate)

	// retrying compensates only the one that was missed
	f.eventSvc.extender = f.subSvc
	res, err = f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, canceledDay, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Extended)
	for _, s := range subs {
		assert.Equal(t, extendedEnd, f.subs.Get(s.ID).EndDate)
	}
}

func TestReactivateRevokesExtension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.purchase(t)

	_, err := f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, canceledDay, true)
	require.NoError(t, err)

	res, err := f.eventSvc.Reactivate(ctx, tenant, f.boxing.ID, canceledDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Extended)
	assert.False(t, res.Event.IsCanceled())
	assert.Equal(t, originalEnd, f.subs.Get(sub.ID).EndDate)

	history, err := f.subSvc.History(ctx, tenant, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, string(ledger.KindRevocation), history[1].Kind)

	// nothing left to revoke
	res, err = f.eventSvc.Reactivate(ctx, tenant, f.boxing.ID, canceledDay)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)

	// a second cancellation is compensated again
	res, err = f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, canceledDay, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Extended)
	assert.Equal(t, extendedEnd, f.subs.Get(sub.ID).EndDate)
}

func TestReactivatePastEventKeepsExtension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.purchase(t)

	_, err := f.eventSvc.Cancel(ctx, tenant, f.boxing.ID, canceledDay, true)
	require.NoError(t, err)

	f.setNow(calendar.Date(2019, time.March, 1))
	res, err := f.eventSvc.Reactivate(ctx, tenant, f.boxing.ID, canceledDay)
	require.NoError(t, err)
	assert.False(t, res.Event.IsCanceled())
	assert.Zero(t, res.Checked)
	assert.Equal(t, extendedEnd, f.subs.Get(sub.ID).EndDate)
}

func TestReactivateUnknownEvent(t *testing.T) {
	f := newFixture(t)
	_, err := f.eventSvc.Reactivate(context.Background(), tenant, f.boxing.ID, canceledDay)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}
