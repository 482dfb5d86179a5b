package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fuel-cycle/internal/models"
)

// MongoLiveSessionCollection implements LiveSessionCollection for MongoDB.
type MongoLiveSessionCollection struct {
	Collection *mongo.Collection
}

// InsertSession stores a new live session.
func (c *MongoLiveSessionCollection) InsertSession(ctx context.Context, session models.LiveSession) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	_, err := c.Collection.InsertOne(ctx, session)
	return mapError(err)
}

// FindSessionByID finds a live session.
func (c *MongoLiveSessionCollection) FindSessionByID(ctx context.Context, id string) (*models.LiveSession, error) {
	if c.Collection == nil {
		return nil, ErrNilCollection
	}
	var session models.LiveSession
	if err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session); err != nil {
		return nil, mapError(err)
	}
	return &session, nil
}

// UpdatePosition records the driver's latest fix, appends it to the
// recorded path and adds legKm to the recorded distance.
func (c *MongoLiveSessionCollection) UpdatePosition(ctx context.Context, id string, update models.PositionUpdate, legKm float64) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	set := bson.M{
		"position":   update.Position,
		"updated_at": time.Now().UTC(),
	}
	if update.Heading != nil {
		set["heading"] = *update.Heading
	}
	if update.CurrentStepIndex != nil {
		set["current_step_index"] = *update.CurrentStepIndex
	}
	return c.updateOne(ctx, id, bson.M{
		"$set":  set,
		"$push": bson.M{"path": update.Position},
		"$inc":  bson.M{"distance_km": legKm},
	})
}

// UpdateRoute stores a planned route and restarts step tracking.
func (c *MongoLiveSessionCollection) UpdateRoute(ctx context.Context, id string, route models.RouteData) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	return c.updateOne(ctx, id, bson.M{"$set": bson.M{
		"route_data":         route,
		"current_step_index": 0,
		"updated_at":         time.Now().UTC(),
	}})
}

// DeleteSession removes a live session, ending the trip for every viewer.
func (c *MongoLiveSessionCollection) DeleteSession(ctx context.Context, id string) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	res, err := c.Collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapError(err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteStaleSessions removes sessions not updated since before and returns
// their ids.
func (c *MongoLiveSessionCollection) DeleteStaleSessions(ctx context.Context, before time.Time) ([]string, error) {
	if c.Collection == nil {
		return nil, ErrNilCollection
	}
	filter := bson.M{"updated_at": bson.M{"$lt": before}}
	cursor, err := c.Collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, mapError(err)
	}
	defer cursor.Close(ctx)

	var stale []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &stale); err != nil {
		return nil, mapError(err)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(stale))
	for _, s := range stale {
		ids = append(ids, s.ID)
	}
	if _, err := c.Collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, mapError(err)
	}
	return ids, nil
}

func (c *MongoLiveSessionCollection) updateOne(ctx context.Context, id string, update bson.M) error {
	res, err := c.Collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
