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
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoEventClassRepository implements domain.EventClassRepository
type MongoEventClassRepository struct {
	collection *mongo.Collection
}

func NewMongoEventClassRepository(db *mongo.Database) *MongoEventClassRepository {
	coll := db.Collection("event_classes")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "name", Value: 1}},
	})

	return &MongoEventClassRepository{
		collection: coll,
	}
}

func (r *MongoEventClassRepository) Create(ctx context.Context, ec *domain.EventClass) error {
	now := time.Now().UTC()
	ec.CreatedAt = now
	ec.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, ec)
	if err != nil {
		return fmt.Errorf("failed to create event class: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		ec.ID = oid.Hex()
	}
	return nil
}

func (r *MongoEventClassRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.EventClass, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var ec domain.EventClass
	err = r.collection.FindOne(ctx, bson.M{"_id": oid, "tenant_id": tenantID}).Decode(&ec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrEventClassNotFound
		}
		return nil, fmt.Errorf("failed to get event class: %w", err)
	}
	return &ec, nil
}

func (r *MongoEventClassRepository) GetByIDs(ctx context.Context, tenantID string, ids []string) ([]*domain.EventClass, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, domain.ErrInvalidID
		}
		oids = append(oids, oid)
	}
	if len(oids) == 0 {
		return nil, nil
	}

	return r.find(ctx, bson.M{"_id": bson.M{"$in": oids}, "tenant_id": tenantID})
}

func (r *MongoEventClassRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.EventClass, error) {
	return r.find(ctx, bson.M{"tenant_id": tenantID}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
}

func (r *MongoEventClassRepository) Update(ctx context.Context, ec *domain.EventClass) error {
	oid, err := primitive.ObjectIDFromHex(ec.ID)
	if err != nil {
		return domain.ErrInvalidID
	}
	ec.UpdatedAt = time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"name":       ec.Name,
			"location":   ec.Location,
			"coach_id":   ec.CoachID,
			"days":       ec.Days,
			"date_from":  ec.DateFrom,
			"date_to":    ec.DateTo,
			"updated_at": ec.UpdatedAt,
		},
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": oid, "tenant_id": ec.TenantID}, update)
	if err != nil {
		return fmt.Errorf("failed to update event class: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrEventClassNotFound
	}
	return nil
}

func (r *MongoEventClassRepository) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]*domain.EventClass, error) {
	cursor, err := r.collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to list event classes: %w", err)
	}
	defer cursor.Close(ctx)

	var classes []*domain.EventClass
	if err := cursor.All(ctx, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}
