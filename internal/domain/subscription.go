package domain

import (
	"context"
	"errors"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/ledger"
	"github.com/mansoorceksport/sportcrm/internal/period"
	"github.com/samber/mo"
)

var (
	ErrSubscriptionTypeNotFound = errors.New("subscription type not found")
	ErrSubscriptionNotFound     = errors.New("client subscription not found")
	ErrClassNotIncluded         = errors.New("event class is not part of this subscription")
	ErrOutsideSubscription      = errors.New("session date is outside the subscription period")
)

// SubscriptionType is a product a studio sells: a validity plan, a visit
// limit and the event classes it grants access to.
type SubscriptionType struct {
	ID            string      `json:"id" bson:"_id,omitempty"`
	TenantID      string      `json:"tenant_id" bson:"tenant_id"`
	Name          string      `json:"name" bson:"name"`
	Plan          period.Plan `json:"plan" bson:"plan"`
	Price         float64     `json:"price" bson:"price"`
	EventClassIDs []string    `json:"event_class_ids" bson:"event_class_ids"`
	CreatedAt     time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" bson:"updated_at"`
}

// ClientSubscription is a subscription bought by a client.
type ClientSubscription struct {
	ID                 string    `json:"id" bson:"_id,omitempty"`
	TenantID           string    `json:"tenant_id" bson:"tenant_id"`
	ClientID           string    `json:"client_id" bson:"client_id"`
	SubscriptionTypeID string    `json:"subscription_type_id" bson:"subscription_type_id"`
	PurchaseDate       time.Time `json:"purchase_date" bson:"purchase_date"`
	StartDate          time.Time `json:"start_date" bson:"start_date"`
	EndDate            time.Time `json:"end_date" bson:"end_date"`
	VisitsLeft         int       `json:"visits_left" bson:"visits_left"`
	PurchasedVisits    int       `json:"purchased_visits" bson:"purchased_visits"`
	AttendedEventIDs   []string  `json:"attended_event_ids" bson:"attended_event_ids"`
	Price              float64   `json:"price" bson:"price"`
	Version            int64     `json:"version" bson:"version"` // bumped on every update
	CreatedAt          time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" bson:"updated_at"`
}

// ExtensionHistory is the stored audit record of one ledger extension.
// IDs are ULIDs so they sort in creation order.
type ExtensionHistory struct {
	ID                   string     `json:"id" bson:"_id"`
	TenantID             string     `json:"tenant_id" bson:"tenant_id"`
	ClientSubscriptionID string     `json:"client_subscription_id" bson:"client_subscription_id"`
	Kind                 string     `json:"kind" bson:"kind"`
	Reason               string     `json:"reason" bson:"reason"`
	AddedVisits          int        `json:"added_visits" bson:"added_visits"`
	ExtendedFrom         *time.Time `json:"extended_from,omitempty" bson:"extended_from,omitempty"`
	ExtendedTo           *time.Time `json:"extended_to,omitempty" bson:"extended_to,omitempty"`
	RelatedEventID       string     `json:"related_event_id,omitempty" bson:"related_event_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at" bson:"created_at"`
}

// LedgerState builds the ledger input from the stored subscription and its
// history, oldest record first.
func (cs *ClientSubscription) LedgerState(history []*ExtensionHistory) ledger.State {
	exts := make([]ledger.Extension, 0, len(history))
	for _, h := range history {
		exts = append(exts, h.Extension())
	}
	return ledger.State{
		StartDate:       cs.StartDate,
		EndDate:         cs.EndDate,
		VisitsLeft:      cs.VisitsLeft,
		PurchasedVisits: cs.PurchasedVisits,
		Attended:        cs.AttendedEventIDs,
		History:         exts,
	}
}

// ApplyLedger copies the mutable ledger fields back onto the subscription.
func (cs *ClientSubscription) ApplyLedger(state ledger.State) {
	cs.EndDate = state.EndDate
	cs.VisitsLeft = state.VisitsLeft
	cs.AttendedEventIDs = state.Attended
}

// NewExtensionHistory records ext for subscription cs.
func NewExtensionHistory(id string, cs *ClientSubscription, ext ledger.Extension, now time.Time) *ExtensionHistory {
	return &ExtensionHistory{
		ID:                   id,
		TenantID:             cs.TenantID,
		ClientSubscriptionID: cs.ID,
		Kind:                 string(ext.Kind),
		Reason:               ext.Reason,
		AddedVisits:          ext.AddedVisits,
		ExtendedFrom:         optionToPtr(ext.ExtendedFrom),
		ExtendedTo:           optionToPtr(ext.ExtendedTo),
		RelatedEventID:       ext.EventID,
		CreatedAt:            now,
	}
}

func (h *ExtensionHistory) Extension() ledger.Extension {
	return ledger.Extension{
		Kind:         ledger.Kind(h.Kind),
		AddedVisits:  h.AddedVisits,
		ExtendedFrom: mo.PointerToOption(h.ExtendedFrom),
		ExtendedTo:   mo.PointerToOption(h.ExtendedTo),
		Reason:       h.Reason,
		EventID:      h.RelatedEventID,
	}
}

func optionToPtr(o mo.Option[time.Time]) *time.Time {
	if v, ok := o.Get(); ok {
		return &v
	}
	return nil
}

// Repositories

type SubscriptionTypeRepository interface {
	Create(ctx context.Context, st *SubscriptionType) error
	GetByID(ctx context.Context, tenantID, id string) (*SubscriptionType, error)
	ListByEventClass(ctx context.Context, tenantID, eventClassID string) ([]*SubscriptionType, error)
}

type ClientSubscriptionRepository interface {
	Create(ctx context.Context, cs *ClientSubscription) error
	GetByID(ctx context.Context, tenantID, id string) (*ClientSubscription, error)
	// ListActiveByTypes returns subscriptions of the given types covering day
	// with visits left.
	ListActiveByTypes(ctx context.Context, tenantID string, typeIDs []string, day time.Time) ([]*ClientSubscription, error)
	// Update is a compare-and-swap on Version. On success Version is bumped,
	// otherwise ErrVersionConflict is returned.
	Update(ctx context.Context, cs *ClientSubscription) error
}

type ExtensionHistoryRepository interface {
	Create(ctx context.Context, records ...*ExtensionHistory) error
	ListBySubscription(ctx context.Context, tenantID, subscriptionID string) ([]*ExtensionHistory, error)
	SubscriptionIDsByEvent(ctx context.Context, tenantID, eventID string) ([]string, error)
}

// Transactor runs fn so that every repository write made with the context
// fn receives is committed together or not at all.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
