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

// MongoEventCollection implements EventCollection, one MongoDB collection
// per event kind.
type MongoEventCollection struct {
	Database *mongo.Database
}

func (c *MongoEventCollection) collection(kind models.EventKind) (*mongo.Collection, error) {
	if c.Database == nil {
		return nil, ErrNilCollection
	}
	for _, k := range models.EventKinds {
		if k == kind {
			return c.Database.Collection(string(kind)), nil
		}
	}
	return nil, fmt.Errorf("unknown event collection %q", kind)
}

// InsertEvent stores an event in the collection for kind and returns it with
// its id set.
func (c *MongoEventCollection) InsertEvent(ctx context.Context, kind models.EventKind, event models.EventRecord) (models.EventRecord, error) {
	coll, err := c.collection(kind)
	if err != nil {
		return models.EventRecord{}, err
	}
	now := time.Now().UTC()
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	event.CreatedAt = now
	event.UpdatedAt = now

	if _, err := coll.InsertOne(ctx, event); err != nil {
		return models.EventRecord{}, mapError(err)
	}
	return event, nil
}

// FindEvents returns every event of a cycle in the collection for kind,
// ordered by date.
func (c *MongoEventCollection) FindEvents(ctx context.Context, kind models.EventKind, cycleID string) ([]models.EventRecord, error) {
	coll, err := c.collection(kind)
	if err != nil {
		return nil, err
	}
	cycleObjectID, err := primitive.ObjectIDFromHex(cycleID)
	if err != nil {
		return nil, fmt.Errorf("%w: cycle %q", ErrInvalidID, cycleID)
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := coll.Find(ctx, bson.M{"cycle_id": cycleObjectID}, opts)
	if err != nil {
		return nil, mapError(err)
	}
	defer cursor.Close(ctx)

	events := []models.EventRecord{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, mapError(err)
	}
	return events, nil
}

// UpdateEvent applies update to one event. Type and id are never changed.
func (c *MongoEventCollection) UpdateEvent(ctx context.Context, kind models.EventKind, cycleID, id string, update EventUpdate) error {
	coll, err := c.collection(kind)
	if err != nil {
		return err
	}
	filter, err := eventFilter(cycleID, id)
	if err != nil {
		return err
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	unset := bson.M{}
	if update.Value != nil {
		set["value"] = *update.Value
	}
	if update.Date != nil {
		set["date"] = update.Date.UTC()
	}
	if update.PricePerLiter != nil {
		set["price_per_liter"] = *update.PricePerLiter
	} else if update.ClearPrice {
		unset["price_per_liter"] = ""
	}
	if update.Discount != nil {
		set["discount"] = *update.Discount
	} else if update.ClearDiscount {
		unset["discount"] = ""
	}

	doc := bson.M{"$set": set}
	if len(unset) > 0 {
		doc["$unset"] = unset
	}
	res, err := coll.UpdateOne(ctx, filter, doc)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEvent removes one event.
func (c *MongoEventCollection) DeleteEvent(ctx context.Context, kind models.EventKind, cycleID, id string) error {
	coll, err := c.collection(kind)
	if err != nil {
		return err
	}
	filter, err := eventFilter(cycleID, id)
	if err != nil {
		return err
	}
	res, err := coll.DeleteOne(ctx, filter)
	if err != nil {
		return mapError(err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCycleEvents removes every event of a cycle from the collection for
// kind and returns how many were deleted.
func (c *MongoEventCollection) DeleteCycleEvents(ctx context.Context, kind models.EventKind, cycleID string) (int64, error) {
	coll, err := c.collection(kind)
	if err != nil {
		return 0, err
	}
	cycleObjectID, err := primitive.ObjectIDFromHex(cycleID)
	if err != nil {
		return 0, fmt.Errorf("%w: cycle %q", ErrInvalidID, cycleID)
	}
	res, err := coll.DeleteMany(ctx, bson.M{"cycle_id": cycleObjectID})
	if err != nil {
		return 0, mapError(err)
	}
	return res.DeletedCount, nil
}

func eventFilter(cycleID, id string) (bson.M, error) {
	cycleObjectID, err := primitive.ObjectIDFromHex(cycleID)
	if err != nil {
		return nil, fmt.Errorf("%w: cycle %q", ErrInvalidID, cycleID)
	}
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: event %q", ErrInvalidID, id)
	}
	return bson.M{"_id": objectID, "cycle_id": cycleObjectID}, nil
}
