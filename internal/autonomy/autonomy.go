// Package autonomy computes display metrics from a reconciled cycle. Nothing
// here is persisted.
package autonomy

import (
	"math"

	"github.com/ukydev/fuel-cycle/internal/models"
)

// Autonomy describes how far the vehicle can still go on the fuel of the
// cycle.
type Autonomy struct {
	// Ready is false until the cycle has both fuel and a consumption rate.
	Ready               bool    `json:"ready"`
	NeedsFuel           bool    `json:"needs_fuel"`
	NeedsConsumption    bool    `json:"needs_consumption"`
	DistanceDriven      float64 `json:"distance_driven"`       // km since the cycle started
	RemainingFuel       float64 `json:"remaining_fuel"`        // liters
	RemainingRange      float64 `json:"remaining_range"`       // km
	MaxReachableMileage float64 `json:"max_reachable_mileage"` // odometer reading
}

// Compute returns the autonomy of cycle. Remaining values never go below 0.
func Compute(cycle models.Cycle) Autonomy {
	a := Autonomy{
		NeedsFuel:           cycle.FuelAmount <= 0,
		NeedsConsumption:    cycle.Consumption <= 0,
		DistanceDriven:      cycle.CurrentMileage - cycle.InitialMileage,
		MaxReachableMileage: cycle.CurrentMileage,
	}
	a.Ready = !a.NeedsFuel && !a.NeedsConsumption

	if cycle.Consumption > 0 {
		a.RemainingFuel = math.Max(0, cycle.FuelAmount-a.DistanceDriven/cycle.Consumption)
		a.RemainingRange = a.RemainingFuel * cycle.Consumption
		a.MaxReachableMileage = cycle.CurrentMileage + a.RemainingRange
	}
	return a
}
