package models

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrUnknownEventType is returned when a stored record carries a type no
// variant handles.
var ErrUnknownEventType = errors.New("unknown event type")

// EventRecord is the stored shape of a history event, one document in one of
// the cycle's backing collections.
type EventRecord struct {
	ID               primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	CycleID          primitive.ObjectID `json:"cycle_id" bson:"cycle_id"`
	UserID           string             `json:"user_id" bson:"user_id"`
	Type             EventType          `json:"type" bson:"type"`
	Value            *float64           `json:"value,omitempty" bson:"value,omitempty"`
	Date             time.Time          `json:"date" bson:"date"`
	PricePerLiter    *float64           `json:"price_per_liter,omitempty" bson:"price_per_liter,omitempty"` // refuel only
	Discount         *float64           `json:"discount,omitempty" bson:"discount,omitempty"`               // refuel only
	DistanceTraveled *float64           `json:"distance_traveled,omitempty" bson:"distance_traveled,omitempty"`
	Origin           *Place             `json:"origin,omitempty" bson:"origin,omitempty"`
	Destination      *Place             `json:"destination,omitempty" bson:"destination,omitempty"`
	Path             []LatLng           `json:"path,omitempty" bson:"path,omitempty"`
	CreatedAt        time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at" bson:"updated_at"`
}

// Event converts the record into its history variant.
func (r EventRecord) Event() (Event, error) {
	base := EventBase{ID: r.ID.Hex(), Date: r.Date, Value: r.Value}
	switch r.Type {
	case EventCheckpoint:
		return CheckpointEvent{base}, nil
	case EventRoute:
		var distance float64
		if r.DistanceTraveled != nil {
			distance = *r.DistanceTraveled
		}
		return RouteEvent{
			EventBase:        base,
			DistanceTraveled: distance,
			Origin:           r.Origin,
			Destination:      r.Destination,
			Path:             r.Path,
		}, nil
	case EventFinish:
		return FinishEvent{base}, nil
	case EventRefuel:
		return RefuelEvent{EventBase: base, PricePerLiter: r.PricePerLiter, Discount: r.Discount}, nil
	case EventConsumption:
		return ConsumptionEvent{base}, nil
	default:
		return nil, fmt.Errorf("%w %q on event %s", ErrUnknownEventType, r.Type, r.ID.Hex())
	}
}

// HistoryEntry is the flat wire representation of a history event.
type HistoryEntry struct {
	ID               string    `json:"id"`
	Type             EventType `json:"type"`
	Value            float64   `json:"value"`
	Date             time.Time `json:"date"`
	PricePerLiter    *float64  `json:"price_per_liter,omitempty"`
	Discount         *float64  `json:"discount,omitempty"`
	DistanceTraveled *float64  `json:"distance_traveled,omitempty"`
	Origin           *Place    `json:"origin,omitempty"`
	Destination      *Place    `json:"destination,omitempty"`
	Path             []LatLng  `json:"path,omitempty"`
	Editable         bool      `json:"editable"`
	Deletable        bool      `json:"deletable"`
}

// NewHistoryEntry flattens an event for display.
func NewHistoryEntry(e Event) HistoryEntry {
	entry := HistoryEntry{
		ID:        e.EventID(),
		Type:      e.EventType(),
		Value:     e.EventValue(),
		Date:      e.EventDate(),
		Editable:  e.EventType().Editable(),
		Deletable: e.EventType().Deletable(),
	}
	switch ev := e.(type) {
	case RouteEvent:
		entry.DistanceTraveled = Float(ev.DistanceTraveled)
		entry.Origin = ev.Origin
		entry.Destination = ev.Destination
		entry.Path = ev.Path
	case RefuelEvent:
		entry.PricePerLiter = ev.PricePerLiter
		entry.Discount = ev.Discount
	}
	return entry
}

// NewHistoryEntries flattens a whole history.
func NewHistoryEntries(history []Event) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(history))
	for _, e := range history {
		entries = append(entries, NewHistoryEntry(e))
	}
	return entries
}
