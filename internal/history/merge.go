// Package history builds the ordered event history of a cycle from its three
// backing collections.
package history

import (
	"sort"

	"github.com/ukydev/fuel-cycle/internal/models"
)

// StartEvent returns the synthetic first event of the cycle's history.
func StartEvent(cycle models.Cycle) models.StartEvent {
	return models.StartEvent{EventBase: models.EventBase{
		ID:    models.StartEventID,
		Date:  cycle.StartDate,
		Value: models.Float(cycle.InitialMileage),
	}}
}

// Merge prepends the start event to the refuel, mileage and consumption
// collections and returns them ordered by date. Events sharing a date keep
// the order they were passed in.
func Merge(cycle models.Cycle, refuels, mileage, consumption []models.Event) []models.Event {
	merged := make([]models.Event, 0, 1+len(refuels)+len(mileage)+len(consumption))
	merged = append(merged, StartEvent(cycle))
	merged = append(merged, refuels...)
	merged = append(merged, mileage...)
	merged = append(merged, consumption...)
	SortByDate(merged)
	return merged
}

// SortByDate orders events ascending by date in place, keeping the relative
// order of events with equal dates.
func SortByDate(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].EventDate().Before(events[j].EventDate())
	})
}

// FromRecords converts stored records into events. Records with an unknown
// type are returned separately so callers can log them.
func FromRecords(records []models.EventRecord) ([]models.Event, []error) {
	events := make([]models.Event, 0, len(records))
	var errs []error
	for _, rec := range records {
		ev, err := rec.Event()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return events, errs
}

// Find returns the event with the given id.
func Find(history []models.Event, id string) (models.Event, bool) {
	for _, ev := range history {
		if ev.EventID() == id {
			return ev, true
		}
	}
	return nil, false
}
