package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/mansoorceksport/sportcrm/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoClientSubscriptionRepository implements domain.ClientSubscriptionRepository
type MongoClientSubscriptionRepository struct {
	collection *mongo.Collection
}

func NewMongoClientSubscriptionRepository(db *mongo.Database) *MongoClientSubscriptionRepository {
	coll := db.Collection("client_subscriptions")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "subscription_type_id", Value: 1},
			{Key: "end_date", Value: 1},
		},
	})
	_, _ = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "client_id", Value: 1}},
	})

	return &MongoClientSubscriptionRepository{
		collection: coll,
	}
}

func (r *MongoClientSubscriptionRepository) Create(ctx context.Context, cs *domain.ClientSubscription) error {
	now := time.Now().UTC()
	cs.CreatedAt = now
	cs.UpdatedAt = now
	cs.Version = 1
	if cs.AttendedEventIDs == nil {
		cs.AttendedEventIDs = []string{}
	}

	result, err := r.collection.InsertOne(ctx, cs)
	if err != nil {
		return fmt.Errorf("failed to create client subscription: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		cs.ID = oid.Hex()
	}
	return nil
}

func (r *MongoClientSubscriptionRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.ClientSubscription, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var cs domain.ClientSubscription
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid, "tenant_id": tenantID}).Decode(&cs); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get client subscription: %w", err)
	}
	return &cs, nil
}

func (r *MongoClientSubscriptionRepository) ListActiveByTypes(ctx context.Context, tenantID string, typeIDs []string, day time.Time) ([]*domain.ClientSubscription, error) {
	if len(typeIDs) == 0 {
		return nil, nil
	}
	day = calendar.Day(day)

	filter := bson.M{
		"tenant_id":            tenantID,
		"subscription_type_id": bson.M{"$in": typeIDs},
		"start_date":           bson.M{"$lte": day},
		"end_date":             bson.M{"$gte": day},
		"visits_left":          bson.M{"$gt": 0},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	defer cursor.Close(ctx)

	var subs []*domain.ClientSubscription
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// Update writes the ledger fields only when the stored version still matches
// cs.Version, then bumps it.
func (r *MongoClientSubscriptionRepository) Update(ctx context.Context, cs *domain.ClientSubscription) error {
	oid, err := primitive.ObjectIDFromHex(cs.ID)
	if err != nil {
		return domain.ErrInvalidID
	}
	now := time.Now().UTC()

	filter := bson.M{
		"_id":       oid,
		"tenant_id": cs.TenantID,
		"version":   cs.Version,
	}
	update := bson.M{
		"$set": bson.M{
			"end_date":           cs.EndDate,
			"visits_left":        cs.VisitsLeft,
			"attended_event_ids": cs.AttendedEventIDs,
			"updated_at":         now,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update client subscription: %w", err)
	}
	if result.MatchedCount == 0 {
		// Tell a stale version apart from a missing record
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": oid, "tenant_id": cs.TenantID})
		if err != nil {
			return fmt.Errorf("failed to update client subscription: %w", err)
		}
		if count == 0 {
			return domain.ErrSubscriptionNotFound
		}
		return domain.ErrVersionConflict
	}

	cs.Version++
	cs.UpdatedAt = now
	return nil
}
