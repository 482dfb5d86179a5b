package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CycleStatus is the lifecycle state of a cycle.
type CycleStatus string

const (
	CycleActive   CycleStatus = "active"
	CycleFinished CycleStatus = "finished"
)

// Cycle is one fuel-tracking period of a vehicle. CurrentMileage, FuelAmount
// and Consumption are derived from the cycle's events and are only written
// through an Aggregate.
type Cycle struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID         string             `json:"user_id" bson:"user_id"`
	Name           string             `json:"name" bson:"name"`
	StartDate      time.Time          `json:"start_date" bson:"start_date"`
	FinishDate     *time.Time         `json:"finish_date,omitempty" bson:"finish_date,omitempty"`
	InitialMileage float64            `json:"initial_mileage" bson:"initial_mileage"` // in km
	CurrentMileage float64            `json:"current_mileage" bson:"current_mileage"` // in km
	FuelAmount     float64            `json:"fuel_amount" bson:"fuel_amount"`         // in liters
	Consumption    float64            `json:"consumption" bson:"consumption"`         // in km/l
	Status         CycleStatus        `json:"status" bson:"status"`                   // "active", "finished"
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" bson:"updated_at"`
}

// IsFinished reports whether the cycle reached its terminal state.
func (c Cycle) IsFinished() bool {
	return c.Status == CycleFinished
}

// Aggregate returns the derived fields of the cycle.
func (c Cycle) Aggregate() Aggregate {
	return Aggregate{
		CurrentMileage: c.CurrentMileage,
		FuelAmount:     c.FuelAmount,
		Consumption:    c.Consumption,
	}
}

// WithAggregate returns a copy of the cycle carrying agg as its derived fields.
func (c Cycle) WithAggregate(agg Aggregate) Cycle {
	c.CurrentMileage = agg.CurrentMileage
	c.FuelAmount = agg.FuelAmount
	c.Consumption = agg.Consumption
	return c
}

// Aggregate holds the derived state of a cycle.
type Aggregate struct {
	CurrentMileage float64 `json:"current_mileage" bson:"current_mileage"`
	FuelAmount     float64 `json:"fuel_amount" bson:"fuel_amount"`
	Consumption    float64 `json:"consumption" bson:"consumption"`
}
