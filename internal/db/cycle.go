package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fuel-cycle/internal/models"
)

// MongoCycleCollection implements CycleCollection for MongoDB.
type MongoCycleCollection struct {
	Collection *mongo.Collection
}

// InsertCycle inserts a new cycle and returns it with its id set.
func (c *MongoCycleCollection) InsertCycle(ctx context.Context, cycle models.Cycle) (models.Cycle, error) {
	if c.Collection == nil {
		return models.Cycle{}, ErrNilCollection
	}
	now := time.Now().UTC()
	if cycle.ID.IsZero() {
		cycle.ID = primitive.NewObjectID()
	}
	cycle.CreatedAt = now
	cycle.UpdatedAt = now

	if _, err := c.Collection.InsertOne(ctx, cycle); err != nil {
		return models.Cycle{}, mapError(err)
	}
	return cycle, nil
}

// FindCycles returns the cycles of a user, newest first.
func (c *MongoCycleCollection) FindCycles(ctx context.Context, userID string) ([]models.Cycle, error) {
	if c.Collection == nil {
		return nil, ErrNilCollection
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := c.Collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, mapError(err)
	}
	defer cursor.Close(ctx)

	cycles := []models.Cycle{}
	if err := cursor.All(ctx, &cycles); err != nil {
		return nil, mapError(err)
	}
	return cycles, nil
}

// FindCycleByID finds a cycle owned by userID.
func (c *MongoCycleCollection) FindCycleByID(ctx context.Context, userID, id string) (*models.Cycle, error) {
	if c.Collection == nil {
		return nil, ErrNilCollection
	}
	filter, err := cycleFilter(userID, id)
	if err != nil {
		return nil, err
	}
	var cycle models.Cycle
	if err := c.Collection.FindOne(ctx, filter).Decode(&cycle); err != nil {
		return nil, mapError(err)
	}
	return &cycle, nil
}

// UpdateAggregate overwrites the derived fields of a cycle.
func (c *MongoCycleCollection) UpdateAggregate(ctx context.Context, userID, id string, agg models.Aggregate) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	filter, err := cycleFilter(userID, id)
	if err != nil {
		return err
	}
	update := bson.M{"$set": bson.M{
		"current_mileage": agg.CurrentMileage,
		"fuel_amount":     agg.FuelAmount,
		"consumption":     agg.Consumption,
		"updated_at":      time.Now().UTC(),
	}}
	res, err := c.Collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFinished moves an active cycle to its terminal state.
func (c *MongoCycleCollection) MarkFinished(ctx context.Context, userID, id string, finishedAt time.Time) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	filter, err := cycleFilter(userID, id)
	if err != nil {
		return err
	}
	filter["status"] = models.CycleActive
	update := bson.M{"$set": bson.M{
		"status":      models.CycleFinished,
		"finish_date": finishedAt,
		"updated_at":  time.Now().UTC(),
	}}
	res, err := c.Collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCycle removes the cycle document. Its events are removed separately.
func (c *MongoCycleCollection) DeleteCycle(ctx context.Context, userID, id string) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	filter, err := cycleFilter(userID, id)
	if err != nil {
		return err
	}
	res, err := c.Collection.DeleteOne(ctx, filter)
	if err != nil {
		return mapError(err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func cycleFilter(userID, id string) (bson.M, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: cycle %q", ErrInvalidID, id)
	}
	return bson.M{"_id": objectID, "user_id": userID}, nil
}
