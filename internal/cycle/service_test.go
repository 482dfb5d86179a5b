package cycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fuel-cycle/internal/db"
	"github.com/ukydev/fuel-cycle/internal/metrics"
	"github.com/ukydev/fuel-cycle/internal/models"
	"github.com/ukydev/fuel-cycle/internal/trip"
)

// memStore is an in-memory CycleCollection and EventCollection.
type memStore struct {
	mu           sync.Mutex
	cycles       map[primitive.ObjectID]models.Cycle
	events       map[models.EventKind][]models.EventRecord
	findErr      map[models.EventKind]error
	updateAggErr error
	insertErr    error
	markErr      error // returned by the next MarkFinished only
}

func newMemStore() *memStore {
	return &memStore{
		cycles:  map[primitive.ObjectID]models.Cycle{},
		events:  map[models.EventKind][]models.EventRecord{},
		findErr: map[models.EventKind]error{},
	}
}

func (m *memStore) InsertCycle(_ context.Context, c models.Cycle) (models.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = primitive.NewObjectID()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.cycles[c.ID] = c
	return c, nil
}

func (m *memStore) FindCycles(_ context.Context, userID string) ([]models.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Cycle
	for _, c := range m.cycles {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) lookup(userID, id string) (models.Cycle, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Cycle{}, db.ErrInvalidID
	}
	c, ok := m.cycles[oid]
	if !ok || c.UserID != userID {
		return models.Cycle{}, db.ErrNotFound
	}
	return c, nil
}

func (m *memStore) FindCycleByID(_ context.Context, userID, id string) (*models.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookup(userID, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (m *memStore) UpdateAggregate(_ context.Context, userID, id string, agg models.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateAggErr != nil {
		return m.updateAggErr
	}
	c, err := m.lookup(userID, id)
	if err != nil {
		return err
	}
	m.cycles[c.ID] = c.WithAggregate(agg)
	return nil
}

func (m *memStore) MarkFinished(_ context.Context, userID, id string, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.markErr; err != nil {
		m.markErr = nil
		return err
	}
	c, err := m.lookup(userID, id)
	if err != nil || c.IsFinished() {
		return db.ErrNotFound
	}
	c.Status = models.CycleFinished
	c.FinishDate = &finishedAt
	m.cycles[c.ID] = c
	return nil
}

func (m *memStore) DeleteCycle(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookup(userID, id)
	if err != nil {
		return err
	}
	delete(m.cycles, c.ID)
	return nil
}

func (m *memStore) InsertEvent(_ context.Context, kind models.EventKind, rec models.EventRecord) (models.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return rec, m.insertErr
	}
	rec.ID = primitive.NewObjectID()
	m.events[kind] = append(m.events[kind], rec)
	return rec, nil
}

func (m *memStore) FindEvents(_ context.Context, kind models.EventKind, cycleID string) ([]models.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.findErr[kind]; err != nil {
		return nil, err
	}
	var out []models.EventRecord
	for _, rec := range m.events[kind] {
		if rec.CycleID.Hex() == cycleID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *memStore) UpdateEvent(_ context.Context, kind models.EventKind, cycleID, id string, u db.EventUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.events[kind] {
		if rec.CycleID.Hex() != cycleID || rec.ID.Hex() != id {
			continue
		}
		if u.Value != nil {
			rec.Value = u.Value
		}
		if u.Date != nil {
			rec.Date = *u.Date
		}
		if u.PricePerLiter != nil {
			rec.PricePerLiter = u.PricePerLiter
		}
		if u.Discount != nil {
			rec.Discount = u.Discount
		}
		if u.ClearPrice {
			rec.PricePerLiter = nil
		}
		if u.ClearDiscount {
			rec.Discount = nil
		}
		m.events[kind][i] = rec
		return nil
	}
	return db.ErrNotFound
}

func (m *memStore) DeleteEvent(_ context.Context, kind models.EventKind, cycleID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.events[kind] {
		if rec.CycleID.Hex() == cycleID && rec.ID.Hex() == id {
			m.events[kind] = append(m.events[kind][:i], m.events[kind][i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *memStore) DeleteCycleEvents(_ context.Context, kind models.EventKind, cycleID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[kind][:0]
	var n int64
	for _, rec := range m.events[kind] {
		if rec.CycleID.Hex() == cycleID {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	m.events[kind] = kept
	return n, nil
}

func (m *memStore) count(kind models.EventKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[kind])
}

var day0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func at(days int) *time.Time {
	t := day0.AddDate(0, 0, days)
	return &t
}

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	svc := NewService(store, store, log.NewEntry(logger))
	svc.now = func() time.Time { return day0.AddDate(0, 0, 10) }
	return svc, store
}

func createCycle(t *testing.T, svc *Service, fuel float64) string {
	t.Helper()
	view, err := svc.CreateCycle(context.Background(), "user-1", CreateCycleInput{
		Name:           "May",
		StartDate:      at(0),
		InitialMileage: 10000,
		InitialFuel:    fuel,
	})
	require.NoError(t, err)
	return view.Cycle.ID.Hex()
}

func findEntry(t *testing.T, view *View, typ models.EventType) models.HistoryEntry {
	t.Helper()
	for _, e := range view.History {
		if e.Type == typ {
			return e
		}
	}
	t.Fatalf("no %s event in history", typ)
	return models.HistoryEntry{}
}

func TestService_Scenarios(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 0)

	// A: fuel but no consumption yet.
	view, err := svc.AddRefuel(ctx, "user-1", id, RefuelInput{Liters: 40, Date: at(0)})
	require.NoError(t, err)
	assert.Equal(t, 10000.0, view.Cycle.CurrentMileage)
	assert.Equal(t, 40.0, view.Cycle.FuelAmount)
	assert.False(t, view.Autonomy.Ready)
	assert.True(t, view.Autonomy.NeedsConsumption)

	// B
	view, err = svc.AddConsumption(ctx, "user-1", id, ConsumptionInput{Rate: 12.5, Date: at(0)})
	require.NoError(t, err)
	assert.True(t, view.Autonomy.Ready)
	assert.InDelta(t, 500.0, view.Autonomy.RemainingRange, 1e-9)
	assert.InDelta(t, 10500.0, view.Autonomy.MaxReachableMileage, 1e-9)

	// C
	view, err = svc.AddCheckpoint(ctx, "user-1", id, CheckpointInput{Mileage: 10200, Date: at(1)})
	require.NoError(t, err)
	assert.Equal(t, 10200.0, view.Cycle.CurrentMileage)
	assert.InDelta(t, 24.0, view.Autonomy.RemainingFuel, 1e-9)
	assert.InDelta(t, 300.0, view.Autonomy.RemainingRange, 1e-9)

	// D: lowering a checkpoint lowers the mileage.
	checkpoint := findEntry(t, view, models.EventCheckpoint)
	view, err = svc.EditEvent(ctx, "user-1", id, checkpoint.ID, EventEdit{Value: models.Float(10100)})
	require.NoError(t, err)
	assert.Equal(t, 10100.0, view.Cycle.CurrentMileage)

	// E
	refuel := findEntry(t, view, models.EventRefuel)
	view, err = svc.DeleteEvent(ctx, "user-1", id, refuel.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, view.Cycle.FuelAmount)
	assert.Equal(t, 0.0, view.Autonomy.RemainingFuel)
	assert.Equal(t, 0.0, view.Autonomy.RemainingRange)
	assert.False(t, view.Autonomy.Ready)

	stored, err := svc.GetCycle(ctx, "user-1", id)
	require.NoError(t, err)
	assert.Equal(t, view.Cycle.Aggregate(), stored.Cycle.Aggregate())
	assert.False(t, stored.AggregateStale)
}

func TestService_CreateCycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateCycle(ctx, "user-1", CreateCycleInput{InitialMileage: 500, InitialFuel: 30, StartDate: at(0)})
	require.NoError(t, err)
	assert.Equal(t, "Unnamed cycle", view.Cycle.Name)
	assert.Equal(t, models.CycleActive, view.Cycle.Status)
	assert.Equal(t, 30.0, view.Cycle.FuelAmount)
	assert.Equal(t, 1, store.count(models.RefuelEvents), "initial fuel is recorded as a refuel")
	require.Len(t, view.History, 2)
	assert.Equal(t, models.EventStart, view.History[0].Type)
	assert.Equal(t, 500.0, view.History[0].Value)

	_, err = svc.CreateCycle(ctx, "user-1", CreateCycleInput{InitialMileage: -1})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "initial_mileage", verr.Field)
}

func TestService_AddCheckpoint_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 0)

	before := testutil.ToFloat64(metrics.ValidationRejections.WithLabelValues("mileage"))
	_, err := svc.AddCheckpoint(ctx, "user-1", id, CheckpointInput{Mileage: 10000, Date: at(1)})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ValidationRejections.WithLabelValues("mileage")))

	_, err = svc.AddRefuel(ctx, "user-1", id, RefuelInput{Liters: 0})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.AddConsumption(ctx, "user-1", id, ConsumptionInput{Rate: -3})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.AddCheckpoint(ctx, "someone-else", id, CheckpointInput{Mileage: 10100})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestService_AddRoute(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 40)

	view, err := svc.AddRoute(ctx, "user-1", id, trip.Payload{
		DistanceTraveledKm: 150,
		CompletionDate:     *at(2),
		Origin:             &models.Place{Label: "Home"},
		Path:               []models.LatLng{{Lat: -22.9, Lng: -43.2}, {Lat: -23.5, Lng: -46.6}},
	})
	require.NoError(t, err)
	assert.Equal(t, 10150.0, view.Cycle.CurrentMileage)
	route := findEntry(t, view, models.EventRoute)
	assert.Equal(t, 10150.0, route.Value)
	assert.Equal(t, 150.0, *route.DistanceTraveled)
	assert.True(t, route.Deletable)
	assert.False(t, route.Editable)
	assert.Equal(t, 1, store.count(models.MileageEvents))

	_, err = svc.AddRoute(ctx, "user-1", id, trip.Payload{DistanceTraveledKm: -1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_EditEvent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 0)

	view, err := svc.AddRefuel(ctx, "user-1", id, RefuelInput{Liters: 40, PricePerLiter: models.Float(6), Discount: models.Float(10), Date: at(1)})
	require.NoError(t, err)
	refuel := findEntry(t, view, models.EventRefuel)

	view, err = svc.EditEvent(ctx, "user-1", id, refuel.ID, EventEdit{PricePerLiter: models.Float(0), Discount: models.Float(-1)})
	require.NoError(t, err)
	edited := findEntry(t, view, models.EventRefuel)
	assert.Nil(t, edited.PricePerLiter, "non-positive price clears it")
	assert.Nil(t, edited.Discount)

	_, err = svc.EditEvent(ctx, "user-1", id, refuel.ID, EventEdit{Value: models.Float(0)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.EditEvent(ctx, "user-1", id, models.StartEventID, EventEdit{Value: models.Float(1)})
	assert.ErrorIs(t, err, ErrEventNotEditable)

	_, err = svc.EditEvent(ctx, "user-1", id, primitive.NewObjectID().Hex(), EventEdit{Value: models.Float(1)})
	assert.ErrorIs(t, err, db.ErrNotFound)

	view, err = svc.AddCheckpoint(ctx, "user-1", id, CheckpointInput{Mileage: 10300, Date: at(2)})
	require.NoError(t, err)
	checkpoint := findEntry(t, view, models.EventCheckpoint)
	_, err = svc.EditEvent(ctx, "user-1", id, checkpoint.ID, EventEdit{Value: models.Float(9000)})
	assert.ErrorIs(t, err, ErrValidation, "checkpoints stay at or above the initial mileage")

	// Moving a checkpoint before the refuel does not change the sums.
	view, err = svc.EditEvent(ctx, "user-1", id, checkpoint.ID, EventEdit{Date: at(0)})
	require.NoError(t, err)
	assert.Equal(t, 10300.0, view.Cycle.CurrentMileage)
	assert.Equal(t, models.EventCheckpoint, view.History[1].Type)
}

func TestService_DeleteEvent_Rules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 0)

	_, err := svc.DeleteEvent(ctx, "user-1", id, models.StartEventID)
	assert.ErrorIs(t, err, ErrEventNotDeletable)

	view, err := svc.AddConsumption(ctx, "user-1", id, ConsumptionInput{Rate: 14, Date: at(1)})
	require.NoError(t, err)
	assert.Equal(t, 14.0, view.Cycle.Consumption)

	consumption := findEntry(t, view, models.EventConsumption)
	view, err = svc.DeleteEvent(ctx, "user-1", id, consumption.ID)
	require.NoError(t, err)
	assert.Equal(t, 14.0, view.Cycle.Consumption, "the stored consumption is the starting value of every reconciliation")
	assert.Len(t, view.History, 1)
}

func TestService_FinishCycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 40)

	_, err := svc.AddCheckpoint(ctx, "user-1", id, CheckpointInput{Mileage: 10400, Date: at(3)})
	require.NoError(t, err)

	view, err := svc.FinishCycle(ctx, "user-1", id)
	require.NoError(t, err)
	assert.True(t, view.Cycle.IsFinished())
	require.NotNil(t, view.Cycle.FinishDate)
	finish := view.History[len(view.History)-1]
	assert.Equal(t, models.EventFinish, finish.Type)
	assert.Equal(t, 10400.0, finish.Value)
	assert.False(t, finish.Editable)
	assert.False(t, finish.Deletable)

	_, err = svc.AddRefuel(ctx, "user-1", id, RefuelInput{Liters: 10})
	assert.ErrorIs(t, err, ErrCycleFinished)
	_, err = svc.DeleteEvent(ctx, "user-1", id, finish.ID)
	assert.ErrorIs(t, err, ErrCycleFinished)
	_, err = svc.FinishCycle(ctx, "user-1", id)
	assert.ErrorIs(t, err, ErrCycleFinished)

	_, err = svc.RecomputeAggregate(ctx, "user-1", id)
	assert.NoError(t, err, "finished cycles can still be repaired")

	report, err := svc.Report(ctx, "user-1", id)
	require.NoError(t, err)
	assert.False(t, report.Ongoing)
	assert.Equal(t, 400.0, report.TotalDistance)
}

func TestService_FinishCycle_InterruptedRetry(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 40)
	_, err := svc.AddCheckpoint(ctx, "user-1", id, CheckpointInput{Mileage: 10400, Date: at(3)})
	require.NoError(t, err)

	store.markErr = errors.New("network blip")
	_, err = svc.FinishCycle(ctx, "user-1", id)
	assert.ErrorIs(t, err, ErrStaleAggregate)
	assert.Equal(t, 2, store.count(models.MileageEvents), "checkpoint and finish")

	view, err := svc.FinishCycle(ctx, "user-1", id)
	require.NoError(t, err)
	assert.True(t, view.Cycle.IsFinished())
	assert.Equal(t, 2, store.count(models.MileageEvents), "the finish event is reused")

	var finishes int
	for _, e := range view.History {
		if e.Type == models.EventFinish {
			finishes++
		}
	}
	assert.Equal(t, 1, finishes)
}

func TestService_RecomputeAggregate_CompletesInterruptedFinish(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 40)

	store.markErr = errors.New("network blip")
	_, err := svc.FinishCycle(ctx, "user-1", id)
	require.ErrorIs(t, err, ErrStaleAggregate)

	view, err := svc.RecomputeAggregate(ctx, "user-1", id)
	require.NoError(t, err)
	assert.True(t, view.Cycle.IsFinished())
	require.NotNil(t, view.Cycle.FinishDate)
	assert.Equal(t, findEntry(t, view, models.EventFinish).Date, *view.Cycle.FinishDate)

	_, err = svc.FinishCycle(ctx, "user-1", id)
	assert.ErrorIs(t, err, ErrCycleFinished)
}

func TestService_FinishCycle_UsesReconciledMileage(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 40)
	_, err := svc.AddCheckpoint(ctx, "user-1", id, CheckpointInput{Mileage: 10400, Date: at(3)})
	require.NoError(t, err)

	oid, _ := primitive.ObjectIDFromHex(id)
	store.mu.Lock()
	stale := store.cycles[oid].Aggregate()
	stale.CurrentMileage = 10000
	store.cycles[oid] = store.cycles[oid].WithAggregate(stale)
	store.mu.Unlock()

	view, err := svc.FinishCycle(ctx, "user-1", id)
	require.NoError(t, err)
	assert.Equal(t, 10400.0, findEntry(t, view, models.EventFinish).Value)
	assert.Equal(t, 10400.0, view.Cycle.CurrentMileage)
}

func TestService_StaleAggregate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 0)

	store.updateAggErr = errors.New("connection reset")
	before := testutil.ToFloat64(metrics.StaleAggregates)

	_, err := svc.AddRefuel(ctx, "user-1", id, RefuelInput{Liters: 25, Date: at(1)})
	assert.ErrorIs(t, err, ErrStaleAggregate)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.StaleAggregates))
	assert.Equal(t, 1, store.count(models.RefuelEvents), "the event write is kept")

	view, err := svc.GetCycle(ctx, "user-1", id)
	require.NoError(t, err)
	assert.True(t, view.AggregateStale)
	assert.Equal(t, 0.0, view.Cycle.FuelAmount)

	store.updateAggErr = nil
	repaired, err := svc.RecomputeAggregate(ctx, "user-1", id)
	require.NoError(t, err)
	assert.Equal(t, 25.0, repaired.Cycle.FuelAmount)

	again, err := svc.RecomputeAggregate(ctx, "user-1", id)
	require.NoError(t, err)
	assert.Equal(t, repaired.Cycle.Aggregate(), again.Cycle.Aggregate())

	view, err = svc.GetCycle(ctx, "user-1", id)
	require.NoError(t, err)
	assert.False(t, view.AggregateStale)
}

func TestService_RecomputeAggregate_RestoresCorruptedCycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 40)

	_, err := svc.AddConsumption(ctx, "user-1", id, ConsumptionInput{Rate: 12, Date: at(1)})
	require.NoError(t, err)
	want, err := svc.AddCheckpoint(ctx, "user-1", id, CheckpointInput{Mileage: 10120, Date: at(2)})
	require.NoError(t, err)

	oid, _ := primitive.ObjectIDFromHex(id)
	store.mu.Lock()
	store.cycles[oid] = store.cycles[oid].WithAggregate(models.Aggregate{CurrentMileage: 99999, FuelAmount: -5, Consumption: 1})
	store.mu.Unlock()

	view, err := svc.RecomputeAggregate(ctx, "user-1", id)
	require.NoError(t, err)
	assert.Equal(t, want.Cycle.CurrentMileage, view.Cycle.CurrentMileage)
	assert.Equal(t, want.Cycle.FuelAmount, view.Cycle.FuelAmount)
	// The corrupted consumption is the prior for the repair, but the stored
	// report overrides it.
	assert.Equal(t, 12.0, view.Cycle.Consumption)
}

func TestService_GetCycle_UnreadableCollection(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 40)

	store.findErr[models.ConsumptionEvents] = db.ErrPermissionDenied
	view, err := svc.GetCycle(ctx, "user-1", id)
	require.NoError(t, err)
	require.Len(t, view.Warnings, 1)
	assert.Contains(t, view.Warnings[0], "consumption_events")
	assert.False(t, view.AggregateStale, "staleness is unknown with a partial history")
	assert.Len(t, view.History, 2)

	_, err = svc.AddRefuel(ctx, "user-1", id, RefuelInput{Liters: 5, Date: at(1)})
	assert.ErrorIs(t, err, ErrStaleAggregate)
	assert.ErrorIs(t, err, db.ErrPermissionDenied)

	_, err = svc.Report(ctx, "user-1", id)
	assert.ErrorIs(t, err, db.ErrPermissionDenied)
}

func TestService_DeleteCycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createCycle(t, svc, 40)
	other := createCycle(t, svc, 10)

	_, err := svc.AddCheckpoint(ctx, "user-1", id, CheckpointInput{Mileage: 10050, Date: at(1)})
	require.NoError(t, err)
	_, err = svc.AddConsumption(ctx, "user-1", id, ConsumptionInput{Rate: 10, Date: at(1)})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteCycle(ctx, "someone-else", id), db.ErrNotFound)
	require.NoError(t, svc.DeleteCycle(ctx, "user-1", id))

	assert.Equal(t, 1, store.count(models.RefuelEvents), "other cycles keep their events")
	assert.Equal(t, 0, store.count(models.MileageEvents))
	assert.Equal(t, 0, store.count(models.ConsumptionEvents))

	_, err = svc.GetCycle(ctx, "user-1", id)
	assert.ErrorIs(t, err, db.ErrNotFound)

	cycles, err := svc.ListCycles(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, other, cycles[0].ID.Hex())
}
