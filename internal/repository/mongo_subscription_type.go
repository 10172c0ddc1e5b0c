package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoSubscriptionTypeRepository implements domain.SubscriptionTypeRepository
type MongoSubscriptionTypeRepository struct {
	collection *mongo.Collection
}

func NewMongoSubscriptionTypeRepository(db *mongo.Database) *MongoSubscriptionTypeRepository {
	coll := db.Collection("subscription_types")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Multikey index for the cancellation fan-out lookup
	_, _ = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "event_class_ids", Value: 1}},
	})

	return &MongoSubscriptionTypeRepository{
		collection: coll,
	}
}

func (r *MongoSubscriptionTypeRepository) Create(ctx context.Context, st *domain.SubscriptionType) error {
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, st)
	if err != nil {
		return fmt.Errorf("failed to create subscription type: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		st.ID = oid.Hex()
	}
	return nil
}

func (r *MongoSubscriptionTypeRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.SubscriptionType, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var st domain.SubscriptionType
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid, "tenant_id": tenantID}).Decode(&st); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSubscriptionTypeNotFound
		}
		return nil, fmt.Errorf("failed to get subscription type: %w", err)
	}
	return &st, nil
}

func (r *MongoSubscriptionTypeRepository) ListByEventClass(ctx context.Context, tenantID, eventClassID string) ([]*domain.SubscriptionType, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"tenant_id": tenantID, "event_class_ids": eventClassID})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription types: %w", err)
	}
	defer cursor.Close(ctx)

	var types []*domain.SubscriptionType
	if err := cursor.All(ctx, &types); err != nil {
		return nil, err
	}
	return types, nil
}
