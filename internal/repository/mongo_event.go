package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/mansoorceksport/sportcrm/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoEventRepository implements domain.EventRepository
type MongoEventRepository struct {
	collection *mongo.Collection
}

func NewMongoEventRepository(db *mongo.Database) *MongoEventRepository {
	coll := db.Collection("events")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// One record per session
	_, _ = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "event_class_id", Value: 1},
			{Key: "date", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})

	return &MongoEventRepository{
		collection: coll,
	}
}

func (r *MongoEventRepository) Save(ctx context.Context, event *domain.Event) error {
	now := time.Now().UTC()
	event.Date = calendar.Day(event.Date)
	event.UpdatedAt = now

	filter := bson.M{
		"tenant_id":      event.TenantID,
		"event_class_id": event.EventClassID,
		"date":           event.Date,
	}
	update := bson.M{
		"$set": bson.M{
			"canceled_at":             event.CanceledAt,
			"canceled_with_extending": event.CanceledWithExtending,
			"updated_at":              event.UpdatedAt,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var saved domain.Event
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&saved); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	event.ID = saved.ID
	event.CreatedAt = saved.CreatedAt
	return nil
}

func (r *MongoEventRepository) GetByClassAndDate(ctx context.Context, tenantID, eventClassID string, date time.Time) (*domain.Event, error) {
	filter := bson.M{
		"tenant_id":      tenantID,
		"event_class_id": eventClassID,
		"date":           calendar.Day(date),
	}

	var event domain.Event
	if err := r.collection.FindOne(ctx, filter).Decode(&event); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

func (r *MongoEventRepository) ListByClass(ctx context.Context, tenantID, eventClassID string, from, to time.Time) ([]*domain.Event, error) {
	filter := bson.M{
		"tenant_id":      tenantID,
		"event_class_id": eventClassID,
		"date": bson.M{
			"$gte": calendar.Day(from),
			"$lte": calendar.Day(to),
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*domain.Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}
