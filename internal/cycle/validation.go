package cycle

import (
	"math"
	"strings"
	"time"

	"github.com/ukydev/fuel-cycle/internal/db"
	"github.com/ukydev/fuel-cycle/internal/models"
	"github.com/ukydev/fuel-cycle/internal/trip"
)

const defaultCycleName = "Unnamed cycle"

// CreateCycleInput starts a new cycle.
type CreateCycleInput struct {
	Name           string     `json:"name"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	InitialMileage float64    `json:"initial_mileage"`
	InitialFuel    float64    `json:"initial_fuel"`
}

// CheckpointInput records an odometer reading.
type CheckpointInput struct {
	Mileage float64    `json:"mileage"`
	Date    *time.Time `json:"date,omitempty"`
}

// RefuelInput records liters added to the tank.
type RefuelInput struct {
	Liters        float64    `json:"liters"`
	PricePerLiter *float64   `json:"price_per_liter,omitempty"`
	Discount      *float64   `json:"discount,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
}

// ConsumptionInput reports the vehicle's consumption in km/l.
type ConsumptionInput struct {
	Rate float64    `json:"rate"`
	Date *time.Time `json:"date,omitempty"`
}

// EventEdit changes the mutable fields of an event. Nil fields are kept.
type EventEdit struct {
	Value         *float64   `json:"value,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	PricePerLiter *float64   `json:"price_per_liter,omitempty"`
	Discount      *float64   `json:"discount,omitempty"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (in *CreateCycleInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		in.Name = defaultCycleName
	}
	if !finite(in.InitialMileage) || in.InitialMileage < 0 {
		return invalid("initial_mileage", "must be a non-negative number")
	}
	if !finite(in.InitialFuel) || in.InitialFuel < 0 {
		return invalid("initial_fuel", "must be a non-negative number")
	}
	if in.StartDate != nil && in.StartDate.IsZero() {
		in.StartDate = nil
	}
	return nil
}

func (in CheckpointInput) validate(cycle models.Cycle) error {
	if !finite(in.Mileage) || in.Mileage <= 0 {
		return invalid("mileage", "must be a positive number")
	}
	if in.Mileage <= cycle.CurrentMileage {
		return invalid("mileage", "must be greater than the current mileage of %.1f km", cycle.CurrentMileage)
	}
	return nil
}

func (in RefuelInput) validate() error {
	if !finite(in.Liters) || in.Liters <= 0 {
		return invalid("liters", "must be a positive number")
	}
	if in.PricePerLiter != nil && (!finite(*in.PricePerLiter) || *in.PricePerLiter <= 0) {
		return invalid("price_per_liter", "must be a positive number")
	}
	if in.Discount != nil && (!finite(*in.Discount) || *in.Discount < 0) {
		return invalid("discount", "must not be negative")
	}
	return nil
}

func (in ConsumptionInput) validate() error {
	if !finite(in.Rate) || in.Rate <= 0 {
		return invalid("rate", "must be a positive number")
	}
	return nil
}

func validateTrip(p trip.Payload) error {
	if !finite(p.DistanceTraveledKm) || p.DistanceTraveledKm < 0 {
		return invalid("distance_traveled_km", "must be a non-negative number")
	}
	for _, pt := range p.Path {
		if !finite(pt.Lat) || !finite(pt.Lng) || math.Abs(pt.Lat) > 90 || math.Abs(pt.Lng) > 180 {
			return invalid("path", "contains an invalid coordinate")
		}
	}
	return nil
}

// updateFor checks an edit against the event it targets and turns it into a
// store update. Non-positive price or discount clear the field.
func updateFor(cycle models.Cycle, ev models.Event, edit EventEdit) (db.EventUpdate, error) {
	var update db.EventUpdate

	if edit.Value != nil {
		v := *edit.Value
		if !finite(v) {
			return update, invalid("value", "must be a number")
		}
		switch ev.EventType() {
		case models.EventRefuel:
			if v <= 0 {
				return update, invalid("value", "liters must be positive")
			}
		case models.EventConsumption:
			if v <= 0 {
				return update, invalid("value", "consumption must be positive")
			}
		case models.EventCheckpoint:
			if v < cycle.InitialMileage {
				return update, invalid("value", "mileage must not be below the initial mileage of %.1f km", cycle.InitialMileage)
			}
		}
		update.Value = &v
	}

	if edit.Date != nil {
		if edit.Date.IsZero() {
			return update, invalid("date", "must be a valid date")
		}
		d := *edit.Date
		update.Date = &d
	}

	if edit.PricePerLiter != nil || edit.Discount != nil {
		if ev.EventType() != models.EventRefuel {
			return update, invalid("price_per_liter", "only refuel events carry a price")
		}
	}
	if edit.PricePerLiter != nil {
		if p := *edit.PricePerLiter; finite(p) && p > 0 {
			update.PricePerLiter = &p
		} else {
			update.ClearPrice = true
		}
	}
	if edit.Discount != nil {
		if d := *edit.Discount; finite(d) && d > 0 {
			update.Discount = &d
		} else {
			update.ClearDiscount = true
		}
	}
	return update, nil
}
