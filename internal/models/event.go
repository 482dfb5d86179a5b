package models

import (
	"time"
)

// EventType discriminates the variants of a cycle's history.
type EventType string

const (
	EventStart       EventType = "start"
	EventCheckpoint  EventType = "checkpoint"
	EventRoute       EventType = "route"
	EventFinish      EventType = "finish"
	EventRefuel      EventType = "refuel"
	EventConsumption EventType = "consumption"
)

// StartEventID is the reserved id of the synthetic start event.
const StartEventID = "start"

// EventKind names the backing collection an event type is stored in.
type EventKind string

const (
	RefuelEvents      EventKind = "refuel_events"
	MileageEvents     EventKind = "mileage_events"
	ConsumptionEvents EventKind = "consumption_events"
)

// EventKinds lists every backing collection of a cycle.
var EventKinds = []EventKind{RefuelEvents, MileageEvents, ConsumptionEvents}

// Kind returns the backing collection for the event type. The start event is
// synthetic and has none.
func (t EventType) Kind() (EventKind, bool) {
	switch t {
	case EventRefuel:
		return RefuelEvents, true
	case EventCheckpoint, EventRoute, EventFinish:
		return MileageEvents, true
	case EventConsumption:
		return ConsumptionEvents, true
	default:
		return "", false
	}
}

// Editable reports whether events of this type accept edits after creation.
func (t EventType) Editable() bool {
	switch t {
	case EventCheckpoint, EventRefuel, EventConsumption:
		return true
	default:
		return false
	}
}

// Deletable reports whether events of this type can be removed.
func (t EventType) Deletable() bool {
	return t.Editable() || t == EventRoute
}

// Event is one entry of a cycle's history. The set of implementations is
// closed to this package.
type Event interface {
	EventID() string
	EventType() EventType
	EventDate() time.Time
	// EventValue returns the numeric payload, 0 when it was never stored.
	EventValue() float64
	isEvent()
}

// EventBase carries the fields shared by every variant.
type EventBase struct {
	ID    string
	Date  time.Time
	Value *float64
}

func (b EventBase) EventID() string      { return b.ID }
func (b EventBase) EventDate() time.Time { return b.Date }

func (b EventBase) EventValue() float64 {
	if b.Value == nil {
		return 0
	}
	return *b.Value
}

func (EventBase) isEvent() {}

// StartEvent is the synthetic first event of every history. Its value is the
// cycle's initial mileage.
type StartEvent struct{ EventBase }

func (StartEvent) EventType() EventType { return EventStart }

// CheckpointEvent is an odometer reading entered by the driver.
type CheckpointEvent struct{ EventBase }

func (CheckpointEvent) EventType() EventType { return EventCheckpoint }

// RouteEvent is a recorded trip. Its value is the odometer reading at the end
// of the trip.
type RouteEvent struct {
	EventBase
	DistanceTraveled float64
	Origin           *Place
	Destination      *Place
	Path             []LatLng
}

func (RouteEvent) EventType() EventType { return EventRoute }

// FinishEvent marks the end of a cycle at the mileage it closed with.
type FinishEvent struct{ EventBase }

func (FinishEvent) EventType() EventType { return EventFinish }

// RefuelEvent adds liters to the fuel balance.
type RefuelEvent struct {
	EventBase
	PricePerLiter *float64
	Discount      *float64
}

func (RefuelEvent) EventType() EventType { return EventRefuel }

// Cost returns liters times price minus discount, 0 when no positive price
// was recorded.
func (e RefuelEvent) Cost() float64 {
	if e.PricePerLiter == nil || *e.PricePerLiter <= 0 {
		return 0
	}
	cost := e.EventValue() * *e.PricePerLiter
	if e.Discount != nil {
		cost -= *e.Discount
	}
	return cost
}

// ConsumptionEvent reports the vehicle's current consumption in km/l.
type ConsumptionEvent struct{ EventBase }

func (ConsumptionEvent) EventType() EventType { return EventConsumption }

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
