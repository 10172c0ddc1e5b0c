package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/mansoorceksport/sportcrm/internal/domain"
	"github.com/mansoorceksport/sportcrm/internal/period"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMongoRepositories(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	classes := NewMongoEventClassRepository(db)
	types := NewMongoSubscriptionTypeRepository(db)
	subs := NewMongoClientSubscriptionRepository(db)
	history := NewMongoExtensionHistoryRepository(db)
	events := NewMongoEventRepository(db)

	monday := calendar.Date(2019, time.February, 25)

	t.Run("event class is tenant scoped", func(t *testing.T) {
		ec := &domain.EventClass{TenantID: "t1", Name: "Boxing", Days: []int{0, 2}, DateFrom: monday}
		require.NoError(t, classes.Create(ctx, ec))
		require.NotEmpty(t, ec.ID)

		got, err := classes.GetByID(ctx, "t1", ec.ID)
		require.NoError(t, err)
		assert.Equal(t, "Boxing", got.Name)
		assert.Equal(t, monday, got.DateFrom)
		assert.Nil(t, got.DateTo)

		_, err = classes.GetByID(ctx, "t2", ec.ID)
		assert.ErrorIs(t, err, domain.ErrEventClassNotFound)

		_, err = classes.GetByID(ctx, "t1", "not-an-id")
		assert.ErrorIs(t, err, domain.ErrInvalidID)

		end := monday.AddDate(0, 3, 0)
		got.DateTo = &end
		require.NoError(t, classes.Update(ctx, got))
		got, err = classes.GetByID(ctx, "t1", ec.ID)
		require.NoError(t, err)
		require.NotNil(t, got.DateTo)
		assert.Equal(t, end, *got.DateTo)
	})

	t.Run("subscription types by event class", func(t *testing.T) {
		st := &domain.SubscriptionType{
			TenantID:      "t1",
			Name:          "Monthly",
			Plan:          period.Plan{Granularity: period.Month, Duration: 1, VisitLimit: 8},
			EventClassIDs: []string{"ec-a", "ec-b"},
		}
		require.NoError(t, types.Create(ctx, st))

		found, err := types.ListByEventClass(ctx, "t1", "ec-b")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, period.Month, found[0].Plan.Granularity)

		found, err = types.ListByEventClass(ctx, "t2", "ec-b")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("client subscription update is compare and swap", func(t *testing.T) {
		cs := &domain.ClientSubscription{
			TenantID:           "t1",
			ClientID:           "c1",
			SubscriptionTypeID: "st1",
			StartDate:          monday,
			EndDate:            monday.AddDate(0, 0, 6),
			VisitsLeft:         8,
			PurchasedVisits:    8,
		}
		require.NoError(t, subs.Create(ctx, cs))
		assert.EqualValues(t, 1, cs.Version)

		a, err := subs.GetByID(ctx, "t1", cs.ID)
		require.NoError(t, err)
		b, err := subs.GetByID(ctx, "t1", cs.ID)
		require.NoError(t, err)

		a.VisitsLeft = 7
		a.AttendedEventIDs = []string{"e1"}
		require.NoError(t, subs.Update(ctx, a))
		assert.EqualValues(t, 2, a.Version)

		b.VisitsLeft = 7
		assert.ErrorIs(t, subs.Update(ctx, b), domain.ErrVersionConflict)

		got, err := subs.GetByID(ctx, "t1", cs.ID)
		require.NoError(t, err)
		assert.Equal(t, 7, got.VisitsLeft)
		assert.Equal(t, []string{"e1"}, got.AttendedEventIDs)

		missing := *got
		missing.TenantID = "t2"
		assert.ErrorIs(t, subs.Update(ctx, &missing), domain.ErrSubscriptionNotFound)
	})

	t.Run("active subscriptions cover the day", func(t *testing.T) {
		active := &domain.ClientSubscription{TenantID: "t3", SubscriptionTypeID: "st", StartDate: monday, EndDate: monday.AddDate(0, 0, 6), VisitsLeft: 1}
		ended := &domain.ClientSubscription{TenantID: "t3", SubscriptionTypeID: "st", StartDate: monday.AddDate(0, 0, -30), EndDate: monday.AddDate(0, 0, -1), VisitsLeft: 1}
		spent := &domain.ClientSubscription{TenantID: "t3", SubscriptionTypeID: "st", StartDate: monday, EndDate: monday.AddDate(0, 0, 6), VisitsLeft: 0}
		other := &domain.ClientSubscription{TenantID: "t3", SubscriptionTypeID: "other", StartDate: monday, EndDate: monday.AddDate(0, 0, 6), VisitsLeft: 1}
		for _, cs := range []*domain.ClientSubscription{active, ended, spent, other} {
			require.NoError(t, subs.Create(ctx, cs))
		}

		found, err := subs.ListActiveByTypes(ctx, "t3", []string{"st"}, monday.AddDate(0, 0, 1))
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, active.ID, found[0].ID)
	})

	t.Run("extension history keeps insertion order", func(t *testing.T) {
		from := monday.AddDate(0, 0, 6)
		to := monday.AddDate(0, 0, 7)
		first := &domain.ExtensionHistory{ID: ulid.Make().String(), TenantID: "t1", ClientSubscriptionID: "s1", Kind: "cancellation", ExtendedFrom: &from, ExtendedTo: &to, RelatedEventID: "e1"}
		second := &domain.ExtensionHistory{ID: ulid.Make().String(), TenantID: "t1", ClientSubscriptionID: "s1", Kind: "manual", AddedVisits: 2}
		require.NoError(t, history.Create(ctx, first, second))

		got, err := history.ListBySubscription(ctx, "t1", "s1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, first.ID, got[0].ID)
		assert.Equal(t, to, *got[0].ExtendedTo)
		assert.Nil(t, got[1].ExtendedTo)

		other := &domain.ExtensionHistory{ID: ulid.Make().String(), TenantID: "t1", ClientSubscriptionID: "s2", Kind: "cancellation", RelatedEventID: "e1"}
		require.NoError(t, history.Create(ctx, other))
		ids, err := history.SubscriptionIDsByEvent(ctx, "t1", "e1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"s1", "s2"}, ids)

		ids, err = history.SubscriptionIDsByEvent(ctx, "t2", "e1")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("event save is an upsert per day", func(t *testing.T) {
		canceled := time.Date(2019, time.February, 24, 18, 0, 0, 0, time.UTC)
		ev := &domain.Event{TenantID: "t1", EventClassID: "ec1", Date: monday, CanceledAt: &canceled, CanceledWithExtending: true}
		require.NoError(t, events.Save(ctx, ev))
		require.NotEmpty(t, ev.ID)

		ev.CanceledAt = nil
		ev.CanceledWithExtending = false
		id := ev.ID
		require.NoError(t, events.Save(ctx, ev))
		assert.Equal(t, id, ev.ID)

		got, err := events.GetByClassAndDate(ctx, "t1", "ec1", monday)
		require.NoError(t, err)
		assert.False(t, got.IsCanceled())

		list, err := events.ListByClass(ctx, "t1", "ec1", monday, monday.AddDate(0, 0, 6))
		require.NoError(t, err)
		assert.Len(t, list, 1)

		_, err = events.GetByClassAndDate(ctx, "t1", "ec1", monday.AddDate(0, 0, 1))
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
	})

	t.Run("transaction rolls back both writes", func(t *testing.T) {
		tx := NewMongoTransactor(db.Client())
		cs := &domain.ClientSubscription{TenantID: "t4", StartDate: monday, EndDate: monday.AddDate(0, 0, 6), VisitsLeft: 8}
		require.NoError(t, subs.Create(ctx, cs))

		boom := errors.New("boom")
		err := tx.WithinTransaction(ctx, func(txCtx context.Context) error {
			upd := *cs
			upd.VisitsLeft = 11
			if err := subs.Update(txCtx, &upd); err != nil {
				return err
			}
			rec := &domain.ExtensionHistory{ID: ulid.Make().String(), TenantID: "t4", ClientSubscriptionID: cs.ID, Kind: "manual", AddedVisits: 3}
			if err := history.Create(txCtx, rec); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := subs.GetByID(ctx, "t4", cs.ID)
		require.NoError(t, err)
		assert.Equal(t, 8, got.VisitsLeft)
		assert.EqualValues(t, 1, got.Version)
		recs, err := history.ListBySubscription(ctx, "t4", cs.ID)
		require.NoError(t, err)
		assert.Empty(t, recs)

		require.NoError(t, tx.WithinTransaction(ctx, func(txCtx context.Context) error {
			upd := *got
			upd.VisitsLeft = 11
			return subs.Update(txCtx, &upd)
		}))
		got, err = subs.GetByID(ctx, "t4", cs.ID)
		require.NoError(t, err)
		assert.Equal(t, 11, got.VisitsLeft)
	})
}
