package models

import (
	"time"
)

// LiveSession is the ephemeral record of a trip in progress, watched by
// co-pilots. Its existence means the trip is running; deleting it ends the
// trip for every viewer.
type LiveSession struct {
	ID               string     `json:"id" bson:"_id"`
	DriverID         string     `json:"driver_id" bson:"driver_id"`
	CycleID          string     `json:"cycle_id,omitempty" bson:"cycle_id,omitempty"`
	Position         *LatLng    `json:"position,omitempty" bson:"position,omitempty"`
	Heading          *float64   `json:"heading,omitempty" bson:"heading,omitempty"` // degrees clockwise from north
	RouteData        *RouteData `json:"route_data,omitempty" bson:"route_data,omitempty"`
	CurrentStepIndex *int       `json:"current_step_index,omitempty" bson:"current_step_index,omitempty"`
	// Path and DistanceKm are the trip recorded so far. They live on the
	// document so any instance can complete the trip.
	Path             []LatLng   `json:"path,omitempty" bson:"path,omitempty"`
	DistanceKm       float64    `json:"distance_km" bson:"distance_km"`
	CreatedAt        time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" bson:"updated_at"`
}

// RouteData is a planned route as returned by the routing provider.
type RouteData struct {
	Origin      Place       `json:"origin" bson:"origin"`
	Destination Place       `json:"destination" bson:"destination"`
	DistanceKm  float64     `json:"distance_km" bson:"distance_km"`
	DurationMin float64     `json:"duration_min" bson:"duration_min"`
	Geometry    []LatLng    `json:"geometry,omitempty" bson:"geometry,omitempty"`
	Steps       []RouteStep `json:"steps,omitempty" bson:"steps,omitempty"`
}

// RouteStep is one maneuver of a planned route.
type RouteStep struct {
	Instruction string  `json:"instruction" bson:"instruction"`
	DistanceKm  float64 `json:"distance_km" bson:"distance_km"`
	Location    LatLng  `json:"location" bson:"location"`
}

// PositionUpdate is one fix from the driver's device.
type PositionUpdate struct {
	Position         LatLng    `json:"position"`
	Heading          *float64  `json:"heading,omitempty"`
	CurrentStepIndex *int      `json:"current_step_index,omitempty"`
	At               time.Time `json:"at,omitempty"`
}
