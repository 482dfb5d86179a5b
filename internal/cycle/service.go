// Package cycle implements the operations on a user's cycles. Every event
// mutation is followed by a full reconciliation of the parent cycle.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fuel-cycle/internal/autonomy"
	"github.com/ukydev/fuel-cycle/internal/db"
	"github.com/ukydev/fuel-cycle/internal/history"
	"github.com/ukydev/fuel-cycle/internal/metrics"
	"github.com/ukydev/fuel-cycle/internal/models"
	"github.com/ukydev/fuel-cycle/internal/reconcile"
	"github.com/ukydev/fuel-cycle/internal/trip"
)

// View is a cycle with its merged history and autonomy.
type View struct {
	Cycle    models.Cycle          `json:"cycle"`
	History  []models.HistoryEntry `json:"history"`
	Autonomy autonomy.Autonomy     `json:"autonomy"`
	// AggregateStale is set when the stored derived fields disagree with the
	// history; RecomputeAggregate fixes it.
	AggregateStale bool `json:"aggregate_stale"`
	// Warnings lists backing collections that could not be read. They are
	// shown as empty.
	Warnings []string `json:"warnings,omitempty"`
}

// NewView builds the view of cycle over its merged history.
func NewView(cycle models.Cycle, merged []models.Event) *View {
	return &View{
		Cycle:    cycle,
		History:  models.NewHistoryEntries(merged),
		Autonomy: autonomy.Compute(cycle),
	}
}

// Service handles cycle operations.
type Service struct {
	cycles db.CycleCollection
	events db.EventCollection
	log    *log.Entry
	now    func() time.Time
}

// NewService creates a new cycle service.
func NewService(cycles db.CycleCollection, events db.EventCollection, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "cycle")
	}
	return &Service{
		cycles: cycles,
		events: events,
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateCycle starts a new active cycle. An initial fuel amount is recorded
// as a refuel dated at the start of the cycle.
func (s *Service) CreateCycle(ctx context.Context, userID string, in CreateCycleInput) (*View, error) {
	if err := in.normalize(); err != nil {
		return nil, s.rejected(err)
	}
	start := s.now()
	if in.StartDate != nil {
		start = in.StartDate.UTC()
	}

	created, err := s.cycles.InsertCycle(ctx, models.Cycle{
		UserID:         userID,
		Name:           in.Name,
		StartDate:      start,
		InitialMileage: in.InitialMileage,
		CurrentMileage: in.InitialMileage,
		FuelAmount:     in.InitialFuel,
		Consumption:    0,
		Status:         models.CycleActive,
	})
	if err != nil {
		return nil, fmt.Errorf("insert cycle: %w", err)
	}
	logger := s.log.WithFields(log.Fields{"user_id": userID, "cycle_id": created.ID.Hex()})
	logger.WithField("initial_mileage", created.InitialMileage).Info("Created cycle")

	if in.InitialFuel > 0 {
		_, err := s.events.InsertEvent(ctx, models.RefuelEvents, models.EventRecord{
			CycleID: created.ID,
			UserID:  userID,
			Type:    models.EventRefuel,
			Value:   models.Float(in.InitialFuel),
			Date:    start,
		})
		if err != nil {
			// The cycle already claims the fuel; realign it with its history.
			logger.WithError(err).Error("Failed to record initial fuel")
			if _, _, rerr := s.recompute(ctx, userID, created, "create"); rerr != nil {
				metrics.StaleAggregates.Inc()
				return nil, fmt.Errorf("%w: %w", ErrStaleAggregate, err)
			}
			return nil, fmt.Errorf("record initial fuel: %w", err)
		}
		metrics.EventWrites.WithLabelValues(string(models.EventRefuel), "create").Inc()
	}

	merged, _, err := s.loadHistory(ctx, created, false)
	if err != nil {
		return NewView(created, history.Merge(created, nil, nil, nil)), nil
	}
	return NewView(created, merged), nil
}

// ListCycles returns the cycles of a user, newest first.
func (s *Service) ListCycles(ctx context.Context, userID string) ([]models.Cycle, error) {
	cycles, err := s.cycles.FindCycles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find cycles: %w", err)
	}
	return cycles, nil
}

// GetCycle returns a cycle with its history. Collections that cannot be read
// are shown empty and reported in the view's warnings.
func (s *Service) GetCycle(ctx context.Context, userID, cycleID string) (*View, error) {
	cycle, err := s.cycles.FindCycleByID(ctx, userID, cycleID)
	if err != nil {
		return nil, fmt.Errorf("find cycle: %w", err)
	}
	merged, warnings, err := s.loadHistory(ctx, *cycle, true)
	if err != nil {
		return nil, err
	}
	view := NewView(*cycle, merged)
	view.Warnings = warnings
	if len(warnings) == 0 {
		view.AggregateStale = reconcile.Cycle(*cycle, merged).Aggregate() != cycle.Aggregate()
	}
	return view, nil
}

// AddCheckpoint records an odometer reading above the current mileage.
func (s *Service) AddCheckpoint(ctx context.Context, userID, cycleID string, in CheckpointInput) (*View, error) {
	return s.addEvent(ctx, userID, cycleID, in.validate, func(c models.Cycle) models.EventRecord {
		return models.EventRecord{Type: models.EventCheckpoint, Value: models.Float(in.Mileage), Date: s.dateOr(in.Date)}
	})
}

// AddRefuel records liters added to the tank.
func (s *Service) AddRefuel(ctx context.Context, userID, cycleID string, in RefuelInput) (*View, error) {
	validate := func(models.Cycle) error { return in.validate() }
	return s.addEvent(ctx, userID, cycleID, validate, func(c models.Cycle) models.EventRecord {
		rec := models.EventRecord{
			Type:          models.EventRefuel,
			Value:         models.Float(in.Liters),
			Date:          s.dateOr(in.Date),
			PricePerLiter: in.PricePerLiter,
		}
		if in.Discount != nil && *in.Discount > 0 {
			rec.Discount = in.Discount
		}
		return rec
	})
}

// AddConsumption reports the vehicle's consumption.
func (s *Service) AddConsumption(ctx context.Context, userID, cycleID string, in ConsumptionInput) (*View, error) {
	validate := func(models.Cycle) error { return in.validate() }
	return s.addEvent(ctx, userID, cycleID, validate, func(c models.Cycle) models.EventRecord {
		return models.EventRecord{Type: models.EventConsumption, Value: models.Float(in.Rate), Date: s.dateOr(in.Date)}
	})
}

// AddRoute records a finished trip. The odometer reading of the route is the
// current mileage plus the distance the recorder measured.
func (s *Service) AddRoute(ctx context.Context, userID, cycleID string, p trip.Payload) (*View, error) {
	validate := func(models.Cycle) error { return validateTrip(p) }
	return s.addEvent(ctx, userID, cycleID, validate, func(c models.Cycle) models.EventRecord {
		date := p.CompletionDate
		if date.IsZero() {
			date = s.now()
		}
		return models.EventRecord{
			Type:             models.EventRoute,
			Value:            models.Float(c.CurrentMileage + p.DistanceTraveledKm),
			Date:             date.UTC(),
			DistanceTraveled: models.Float(p.DistanceTraveledKm),
			Origin:           p.Origin,
			Destination:      p.Destination,
			Path:             p.Path,
		}
	})
}

// FinishCycle closes the cycle with a finish event at its reconciled
// mileage. A finish event left by an earlier attempt whose status change
// failed is reused, so a cycle never gets two.
func (s *Service) FinishCycle(ctx context.Context, userID, cycleID string) (*View, error) {
	cycle, err := s.activeCycle(ctx, userID, cycleID)
	if err != nil {
		return nil, err
	}
	merged, _, err := s.loadHistory(ctx, *cycle, false)
	if err != nil {
		return nil, err
	}

	mileage := reconcile.Cycle(*cycle, merged).CurrentMileage
	finishedAt := s.now()
	if prior, ok := finishEvent(merged); ok {
		finishedAt = prior.EventDate()
		s.log.WithFields(log.Fields{"cycle_id": cycleID, "event_id": prior.EventID()}).Warn("Reusing finish event of an interrupted finish")
	} else {
		if _, err := s.events.InsertEvent(ctx, models.MileageEvents, models.EventRecord{
			CycleID: cycle.ID,
			UserID:  userID,
			Type:    models.EventFinish,
			Value:   models.Float(mileage),
			Date:    finishedAt,
		}); err != nil {
			return nil, fmt.Errorf("insert finish event: %w", err)
		}
		metrics.EventWrites.WithLabelValues(string(models.EventFinish), "create").Inc()
	}

	if err := s.cycles.MarkFinished(ctx, userID, cycleID, finishedAt); err != nil {
		metrics.StaleAggregates.Inc()
		s.log.WithError(err).WithFields(log.Fields{"user_id": userID, "cycle_id": cycleID}).Error("Finish event written but cycle still active")
		return nil, fmt.Errorf("%w: mark cycle finished: %w", ErrStaleAggregate, err)
	}
	cycle.Status = models.CycleFinished
	cycle.FinishDate = &finishedAt
	s.log.WithFields(log.Fields{"user_id": userID, "cycle_id": cycleID, "mileage": mileage}).Info("Finished cycle")

	return s.afterWrite(ctx, userID, *cycle, "finish")
}

// EditEvent changes the value, date, price or discount of an event.
func (s *Service) EditEvent(ctx context.Context, userID, cycleID, eventID string, edit EventEdit) (*View, error) {
	cycle, err := s.activeCycle(ctx, userID, cycleID)
	if err != nil {
		return nil, err
	}
	merged, _, err := s.loadHistory(ctx, *cycle, false)
	if err != nil {
		return nil, err
	}
	ev, ok := history.Find(merged, eventID)
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, db.ErrNotFound)
	}
	if !ev.EventType().Editable() {
		return nil, fmt.Errorf("%s event %s: %w", ev.EventType(), eventID, ErrEventNotEditable)
	}
	update, err := updateFor(*cycle, ev, edit)
	if err != nil {
		return nil, s.rejected(err)
	}
	if update.IsEmpty() {
		return NewView(*cycle, merged), nil
	}

	kind, _ := ev.EventType().Kind()
	if err := s.events.UpdateEvent(ctx, kind, cycleID, eventID, update); err != nil {
		return nil, fmt.Errorf("update %s event: %w", ev.EventType(), err)
	}
	metrics.EventWrites.WithLabelValues(string(ev.EventType()), "edit").Inc()
	return s.afterWrite(ctx, userID, *cycle, "edit")
}

// DeleteEvent removes an event. Start and finish events stay.
func (s *Service) DeleteEvent(ctx context.Context, userID, cycleID, eventID string) (*View, error) {
	cycle, err := s.activeCycle(ctx, userID, cycleID)
	if err != nil {
		return nil, err
	}
	merged, _, err := s.loadHistory(ctx, *cycle, false)
	if err != nil {
		return nil, err
	}
	ev, ok := history.Find(merged, eventID)
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, db.ErrNotFound)
	}
	if !ev.EventType().Deletable() {
		return nil, fmt.Errorf("%s event %s: %w", ev.EventType(), eventID, ErrEventNotDeletable)
	}

	kind, _ := ev.EventType().Kind()
	if err := s.events.DeleteEvent(ctx, kind, cycleID, eventID); err != nil {
		return nil, fmt.Errorf("delete %s event: %w", ev.EventType(), err)
	}
	metrics.EventWrites.WithLabelValues(string(ev.EventType()), "delete").Inc()
	return s.afterWrite(ctx, userID, *cycle, "delete")
}

// DeleteCycle removes a cycle and every event in its backing collections.
func (s *Service) DeleteCycle(ctx context.Context, userID, cycleID string) error {
	if _, err := s.cycles.FindCycleByID(ctx, userID, cycleID); err != nil {
		return fmt.Errorf("find cycle: %w", err)
	}
	var removed int64
	for _, kind := range models.EventKinds {
		n, err := s.events.DeleteCycleEvents(ctx, kind, cycleID)
		if err != nil {
			return fmt.Errorf("delete %s: %w", kind, err)
		}
		removed += n
	}
	if err := s.cycles.DeleteCycle(ctx, userID, cycleID); err != nil {
		return fmt.Errorf("delete cycle: %w", err)
	}
	s.log.WithFields(log.Fields{"user_id": userID, "cycle_id": cycleID, "events": removed}).Info("Deleted cycle")
	return nil
}

// RecomputeAggregate rebuilds the cycle's derived fields from its stored
// events and overwrites them. Safe to call any number of times, also on
// finished cycles.
func (s *Service) RecomputeAggregate(ctx context.Context, userID, cycleID string) (*View, error) {
	cycle, err := s.cycles.FindCycleByID(ctx, userID, cycleID)
	if err != nil {
		return nil, fmt.Errorf("find cycle: %w", err)
	}
	before := cycle.Aggregate()
	updated, merged, err := s.recompute(ctx, userID, *cycle, "repair")
	if err != nil {
		return nil, err
	}
	if finish, ok := finishEvent(merged); ok && !updated.IsFinished() {
		finishedAt := finish.EventDate()
		if err := s.cycles.MarkFinished(ctx, userID, cycleID, finishedAt); err != nil {
			return nil, fmt.Errorf("mark cycle finished: %w", err)
		}
		updated.Status = models.CycleFinished
		updated.FinishDate = &finishedAt
		s.log.WithFields(log.Fields{"user_id": userID, "cycle_id": cycleID}).Warn("Completed interrupted finish")
	}
	if updated.Aggregate() != before {
		s.log.WithFields(log.Fields{
			"user_id":  userID,
			"cycle_id": cycleID,
			"before":   before,
			"after":    updated.Aggregate(),
		}).Warn("Repaired stale cycle aggregate")
	}
	return NewView(updated, merged), nil
}

// Report summarizes a cycle.
func (s *Service) Report(ctx context.Context, userID, cycleID string) (*autonomy.Report, error) {
	cycle, err := s.cycles.FindCycleByID(ctx, userID, cycleID)
	if err != nil {
		return nil, fmt.Errorf("find cycle: %w", err)
	}
	merged, _, err := s.loadHistory(ctx, *cycle, false)
	if err != nil {
		return nil, err
	}
	report := autonomy.BuildReport(*cycle, merged)
	return &report, nil
}

func (s *Service) addEvent(ctx context.Context, userID, cycleID string, validate func(models.Cycle) error, build func(models.Cycle) models.EventRecord) (*View, error) {
	cycle, err := s.activeCycle(ctx, userID, cycleID)
	if err != nil {
		return nil, err
	}
	if err := validate(*cycle); err != nil {
		return nil, s.rejected(err)
	}

	rec := build(*cycle)
	rec.CycleID = cycle.ID
	rec.UserID = userID
	kind, ok := rec.Type.Kind()
	if !ok {
		return nil, fmt.Errorf("%w %q", models.ErrUnknownEventType, rec.Type)
	}
	if _, err := s.events.InsertEvent(ctx, kind, rec); err != nil {
		return nil, fmt.Errorf("insert %s event: %w", rec.Type, err)
	}
	metrics.EventWrites.WithLabelValues(string(rec.Type), "create").Inc()
	return s.afterWrite(ctx, userID, *cycle, "add")
}

func finishEvent(history []models.Event) (models.Event, bool) {
	for _, ev := range history {
		if ev.EventType() == models.EventFinish {
			return ev, true
		}
	}
	return nil, false
}

// afterWrite reconciles the cycle after one of its events changed. The event
// write is never undone; a failure here leaves the aggregate stale.
func (s *Service) afterWrite(ctx context.Context, userID string, cycle models.Cycle, trigger string) (*View, error) {
	updated, merged, err := s.recompute(ctx, userID, cycle, trigger)
	if err != nil {
		metrics.StaleAggregates.Inc()
		s.log.WithError(err).WithFields(log.Fields{
			"user_id":  userID,
			"cycle_id": cycle.ID.Hex(),
			"trigger":  trigger,
		}).Error("Cycle aggregate left stale")
		return nil, fmt.Errorf("%w: %w", ErrStaleAggregate, err)
	}
	return NewView(updated, merged), nil
}

// recompute re-reads the three backing collections, reconciles and persists
// the aggregate.
func (s *Service) recompute(ctx context.Context, userID string, cycle models.Cycle, trigger string) (models.Cycle, []models.Event, error) {
	start := time.Now()
	defer func() { metrics.ReconcileDuration.Observe(time.Since(start).Seconds()) }()

	merged, _, err := s.loadHistory(ctx, cycle, false)
	if err != nil {
		metrics.Reconciliations.WithLabelValues(trigger, "error").Inc()
		return cycle, nil, err
	}
	updated := reconcile.Cycle(cycle, merged)
	if err := s.cycles.UpdateAggregate(ctx, userID, cycle.ID.Hex(), updated.Aggregate()); err != nil {
		metrics.Reconciliations.WithLabelValues(trigger, "error").Inc()
		return cycle, merged, fmt.Errorf("update aggregate: %w", err)
	}
	metrics.Reconciliations.WithLabelValues(trigger, "ok").Inc()
	return updated, merged, nil
}

// loadHistory reads and merges the backing collections of cycle. With
// tolerant set, a collection that cannot be read is treated as empty and
// reported as a warning instead of failing the whole read.
func (s *Service) loadHistory(ctx context.Context, cycle models.Cycle, tolerant bool) ([]models.Event, []string, error) {
	streams := make(map[models.EventKind][]models.Event, len(models.EventKinds))
	var warnings []string
	for _, kind := range models.EventKinds {
		records, err := s.events.FindEvents(ctx, kind, cycle.ID.Hex())
		if err != nil {
			if tolerant {
				s.log.WithError(err).WithFields(log.Fields{"cycle_id": cycle.ID.Hex(), "collection": kind}).Warn("Showing collection as empty")
				warnings = append(warnings, fmt.Sprintf("%s unavailable: %v", kind, err))
				continue
			}
			return nil, nil, fmt.Errorf("load %s: %w", kind, err)
		}
		events, errs := history.FromRecords(records)
		for _, e := range errs {
			s.log.WithError(e).WithField("cycle_id", cycle.ID.Hex()).Warn("Skipping unreadable event")
		}
		streams[kind] = events
	}
	merged := history.Merge(cycle,
		streams[models.RefuelEvents],
		streams[models.MileageEvents],
		streams[models.ConsumptionEvents],
	)
	return merged, warnings, nil
}

func (s *Service) activeCycle(ctx context.Context, userID, cycleID string) (*models.Cycle, error) {
	cycle, err := s.cycles.FindCycleByID(ctx, userID, cycleID)
	if err != nil {
		return nil, fmt.Errorf("find cycle: %w", err)
	}
	if cycle.IsFinished() {
		return nil, fmt.Errorf("cycle %s: %w", cycleID, ErrCycleFinished)
	}
	return cycle, nil
}

func (s *Service) rejected(err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		metrics.ValidationRejections.WithLabelValues(verr.Field).Inc()
	}
	return err
}

func (s *Service) dateOr(d *time.Time) time.Time {
	if d == nil || d.IsZero() {
		return s.now()
	}
	return d.UTC()
}
