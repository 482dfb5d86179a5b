package db

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fuel-cycle/internal/models"
)

const defaultPollInterval = 3 * time.Second

// MongoWatcher implements Watcher with change streams. Deployments without a
// replica set cannot open change streams; the watcher then polls.
type MongoWatcher struct {
	Store        *Store
	PollInterval time.Duration
	Log          *log.Entry
}

// NewMongoWatcher creates a watcher over store.
func NewMongoWatcher(store *Store, pollInterval time.Duration, logger *log.Entry) *MongoWatcher {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = log.WithField("component", "watcher")
	}
	return &MongoWatcher{Store: store, PollInterval: pollInterval, Log: logger}
}

// WatchCycle delivers the cycle and every later version of it. A deleted
// cycle is delivered as ErrNotFound.
func (w *MongoWatcher) WatchCycle(ctx context.Context, userID, cycleID string, fn func(*models.Cycle, error)) error {
	objectID, err := primitive.ObjectIDFromHex(cycleID)
	if err != nil {
		return fmt.Errorf("%w: cycle %q", ErrInvalidID, cycleID)
	}
	load := func() {
		fn(w.Store.Cycles.FindCycleByID(ctx, userID, cycleID))
	}
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: objectID}}}}}
	return w.watch(ctx, w.Store.Database.Collection(CyclesCollection), pipeline, load)
}

// WatchEvents delivers the full content of one backing collection of a
// cycle on every change to it.
func (w *MongoWatcher) WatchEvents(ctx context.Context, kind models.EventKind, cycleID string, fn func([]models.EventRecord, error)) error {
	objectID, err := primitive.ObjectIDFromHex(cycleID)
	if err != nil {
		return fmt.Errorf("%w: cycle %q", ErrInvalidID, cycleID)
	}
	coll, err := w.Store.Events.collection(kind)
	if err != nil {
		return err
	}
	load := func() {
		fn(w.Store.Events.FindEvents(ctx, kind, cycleID))
	}
	// Deletes carry no document, so any delete in the collection triggers a
	// reload.
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "fullDocument.cycle_id", Value: objectID}},
		bson.D{{Key: "operationType", Value: "delete"}},
	}}}}}}
	return w.watch(ctx, coll, pipeline, load)
}

func (w *MongoWatcher) watch(ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline, load func()) error {
	stream, err := coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		mapped := mapError(err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.Log.WithError(mapped).WithField("collection", coll.Name()).Warn("Change stream unavailable, polling")
		return w.poll(ctx, load)
	}
	defer stream.Close(context.Background())

	load()
	for stream.Next(ctx) {
		load()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return mapError(stream.Err())
}

func (w *MongoWatcher) poll(ctx context.Context, load func()) error {
	load()
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			load()
		}
	}
}
