// Package reconcile derives a cycle's aggregate from its event history.
package reconcile

import (
	"math"

	"github.com/ukydev/fuel-cycle/internal/history"
	"github.com/ukydev/fuel-cycle/internal/models"
)

// Initial is the state a cycle starts from before any event is applied.
type Initial struct {
	InitialMileage float64
	// PriorConsumption is the consumption stored on the cycle before this
	// run, 0 if it was never reported.
	PriorConsumption float64
}

// State is the reconciled aggregate.
type State struct {
	CurrentMileage float64
	FuelAmount     float64
	Consumption    float64
}

// Aggregate converts the state into the cycle's derived fields.
func (s State) Aggregate() models.Aggregate {
	return models.Aggregate{
		CurrentMileage: s.CurrentMileage,
		FuelAmount:     s.FuelAmount,
		Consumption:    s.Consumption,
	}
}

// InitialFor returns the reconciliation starting point of a cycle.
func InitialFor(cycle models.Cycle) Initial {
	return Initial{InitialMileage: cycle.InitialMileage, PriorConsumption: cycle.Consumption}
}

// Reconcile applies history to initial in date order. Start events are
// skipped since initial already encodes them. The input slice is not
// modified.
func Reconcile(initial Initial, events []models.Event) State {
	ordered := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev == nil || ev.EventType() == models.EventStart {
			continue
		}
		ordered = append(ordered, ev)
	}
	history.SortByDate(ordered)

	state := State{
		CurrentMileage: initial.InitialMileage,
		FuelAmount:     0,
		Consumption:    initial.PriorConsumption,
	}
	for _, ev := range ordered {
		value := ev.EventValue()
		switch ev.(type) {
		case models.CheckpointEvent, models.RouteEvent, models.FinishEvent:
			state.CurrentMileage = math.Max(state.CurrentMileage, value)
		case models.RefuelEvent:
			state.FuelAmount += value
		case models.ConsumptionEvent:
			state.Consumption = value
		}
	}
	return state
}

// Cycle reconciles cycle over history and returns it with the derived
// fields replaced.
func Cycle(cycle models.Cycle, events []models.Event) models.Cycle {
	return cycle.WithAggregate(Reconcile(InitialFor(cycle), events).Aggregate())
}
