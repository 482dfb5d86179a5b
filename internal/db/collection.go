package db

import (
	"context"
	"time"

	"github.com/ukydev/fuel-cycle/internal/models"
)

// CycleCollection defines the interface for cycle data operations. Derived
// fields can only be written through UpdateAggregate.
type CycleCollection interface {
	InsertCycle(ctx context.Context, cycle models.Cycle) (models.Cycle, error)
	FindCycles(ctx context.Context, userID string) ([]models.Cycle, error)
	FindCycleByID(ctx context.Context, userID, id string) (*models.Cycle, error)
	UpdateAggregate(ctx context.Context, userID, id string, agg models.Aggregate) error
	MarkFinished(ctx context.Context, userID, id string, finishedAt time.Time) error
	DeleteCycle(ctx context.Context, userID, id string) error
}

// EventCollection defines the interface for the three backing collections of
// a cycle's history. kind selects the collection.
type EventCollection interface {
	InsertEvent(ctx context.Context, kind models.EventKind, event models.EventRecord) (models.EventRecord, error)
	FindEvents(ctx context.Context, kind models.EventKind, cycleID string) ([]models.EventRecord, error)
	UpdateEvent(ctx context.Context, kind models.EventKind, cycleID, id string, update EventUpdate) error
	DeleteEvent(ctx context.Context, kind models.EventKind, cycleID, id string) error
	DeleteCycleEvents(ctx context.Context, kind models.EventKind, cycleID string) (int64, error)
}

// LiveSessionCollection defines the interface for live session operations.
type LiveSessionCollection interface {
	InsertSession(ctx context.Context, session models.LiveSession) error
	FindSessionByID(ctx context.Context, id string) (*models.LiveSession, error)
	UpdatePosition(ctx context.Context, id string, update models.PositionUpdate, legKm float64) error
	UpdateRoute(ctx context.Context, id string, route models.RouteData) error
	DeleteSession(ctx context.Context, id string) error
	DeleteStaleSessions(ctx context.Context, before time.Time) ([]string, error)
}

// Watcher delivers the current content of a document or collection and then
// every change to it until ctx is done. Callbacks receive an error instead of
// data when a load fails.
type Watcher interface {
	WatchCycle(ctx context.Context, userID, cycleID string, fn func(*models.Cycle, error)) error
	WatchEvents(ctx context.Context, kind models.EventKind, cycleID string, fn func([]models.EventRecord, error)) error
}

// EventUpdate lists the mutable fields of a stored event. Nil fields are left
// untouched; the Clear flags remove optional refuel fields.
type EventUpdate struct {
	Value         *float64
	Date          *time.Time
	PricePerLiter *float64
	Discount      *float64
	ClearPrice    bool
	ClearDiscount bool
}

// IsEmpty reports whether the update changes nothing.
func (u EventUpdate) IsEmpty() bool {
	return u.Value == nil && u.Date == nil && u.PricePerLiter == nil && u.Discount == nil &&
		!u.ClearPrice && !u.ClearDiscount
}
