package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoExtensionHistoryRepository implements domain.ExtensionHistoryRepository.
// Records are insert-only.
type MongoExtensionHistoryRepository struct {
	collection *mongo.Collection
}

func NewMongoExtensionHistoryRepository(db *mongo.Database) *MongoExtensionHistoryRepository {
	coll := db.Collection("extension_history")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "client_subscription_id", Value: 1}, {Key: "_id", Value: 1}},
	})
	_, _ = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "related_event_id", Value: 1}},
	})

	return &MongoExtensionHistoryRepository{
		collection: coll,
	}
}

func (r *MongoExtensionHistoryRepository) Create(ctx context.Context, records ...*domain.ExtensionHistory) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(records))
	for _, rec := range records {
		docs = append(docs, rec)
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to create extension history: %w", err)
	}
	return nil
}

// ListBySubscription returns the history oldest first. ULID ids sort by
// creation time.
func (r *MongoExtensionHistoryRepository) ListBySubscription(ctx context.Context, tenantID, subscriptionID string) ([]*domain.ExtensionHistory, error) {
	filter := bson.M{"tenant_id": tenantID, "client_subscription_id": subscriptionID}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list extension history: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*domain.ExtensionHistory
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SubscriptionIDsByEvent lists the distinct subscriptions holding any record
// about eventID.
func (r *MongoExtensionHistoryRepository) SubscriptionIDsByEvent(ctx context.Context, tenantID, eventID string) ([]string, error) {
	values, err := r.collection.Distinct(ctx, "client_subscription_id", bson.M{
		"tenant_id":        tenantID,
		"related_event_id": eventID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions by event: %w", err)
	}

	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
