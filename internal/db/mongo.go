package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fuel-cycle/internal/models"
)

const (
	CyclesCollection       = "cycles"
	LiveSessionsCollection = "live_sessions"
)

var (
	ErrNilCollection    = errors.New("mongo collection is nil")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidID        = errors.New("invalid id")
)

// Server error codes returned when the connected user lacks a privilege.
const (
	codeUnauthorized        = 13
	codeAtlasUnauthorized   = 8000
	codeAuthenticationError = 18
)

// ConnectMongo connects to MongoDB at uri and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// Ping to verify connection
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// Store groups the collections of one database.
type Store struct {
	Database *mongo.Database
	Cycles   *MongoCycleCollection
	Events   *MongoEventCollection
	Sessions *MongoLiveSessionCollection
}

// NewStore wires the collections of database.
func NewStore(database *mongo.Database) *Store {
	return &Store{
		Database: database,
		Cycles:   &MongoCycleCollection{Collection: database.Collection(CyclesCollection)},
		Events:   &MongoEventCollection{Database: database},
		Sessions: &MongoLiveSessionCollection{Collection: database.Collection(LiveSessionsCollection)},
	}
}

// EnsureIndexes creates the indexes the queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.Database.Collection(CyclesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("cycles index: %w", mapError(err))
	}
	for _, kind := range models.EventKinds {
		_, err := s.Database.Collection(string(kind)).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "cycle_id", Value: 1}, {Key: "date", Value: 1}},
		})
		if err != nil {
			return fmt.Errorf("%s index: %w", kind, mapError(err))
		}
	}
	_, err = s.Database.Collection(LiveSessionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("live sessions index: %w", mapError(err))
	}
	return nil
}

// mapError translates driver errors into the package sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		if serverErr.HasErrorCode(codeUnauthorized) ||
			serverErr.HasErrorCode(codeAtlasUnauthorized) ||
			serverErr.HasErrorCode(codeAuthenticationError) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	return err
}
