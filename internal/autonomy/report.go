package autonomy

import (
	"math"
	"time"

	"github.com/ukydev/fuel-cycle/internal/models"
)

// Report summarizes a finished or in-progress cycle.
type Report struct {
	CycleID          string    `json:"cycle_id"`
	Name             string    `json:"name"`
	Ongoing          bool      `json:"ongoing"`
	StartDate        time.Time `json:"start_date"`
	LastEventDate    time.Time `json:"last_event_date"`
	DurationDays     int       `json:"duration_days"`
	TotalDistance    float64   `json:"total_distance"` // km
	TotalFuel        float64   `json:"total_fuel"`     // liters refueled
	RefuelCount      int       `json:"refuel_count"`
	TotalCost        float64   `json:"total_cost"`
	CostPerKm        float64   `json:"cost_per_km"`
	AverageFuelPrice float64   `json:"average_fuel_price"` // per liter, over priced refuels
	FinalConsumption float64   `json:"final_consumption"`  // km/l
}

// BuildReport computes the report of cycle from its merged history.
func BuildReport(cycle models.Cycle, history []models.Event) Report {
	r := Report{
		CycleID:          cycle.ID.Hex(),
		Name:             cycle.Name,
		Ongoing:          !cycle.IsFinished(),
		StartDate:        cycle.StartDate,
		LastEventDate:    cycle.StartDate,
		TotalDistance:    cycle.CurrentMileage - cycle.InitialMileage,
		FinalConsumption: cycle.Consumption,
	}

	var pricedLiters, pricedSpend float64
	for _, ev := range history {
		if ev.EventDate().After(r.LastEventDate) {
			r.LastEventDate = ev.EventDate()
		}
		refuel, ok := ev.(models.RefuelEvent)
		if !ok {
			continue
		}
		r.RefuelCount++
		r.TotalFuel += refuel.EventValue()
		if refuel.PricePerLiter != nil && *refuel.PricePerLiter > 0 {
			r.TotalCost += refuel.Cost()
			pricedLiters += refuel.EventValue()
			pricedSpend += refuel.EventValue() * *refuel.PricePerLiter
		}
	}

	r.DurationDays = DurationDays(r.StartDate, r.LastEventDate)
	if r.TotalDistance > 0 {
		r.CostPerKm = r.TotalCost / r.TotalDistance
	}
	if pricedLiters > 0 {
		r.AverageFuelPrice = pricedSpend / pricedLiters
	}
	return r
}

// DurationDays returns the number of started days between start and end,
// at least 1.
func DurationDays(start, end time.Time) int {
	days := int(math.Ceil(end.Sub(start).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}
