package history

import (
	"sync"

	"github.com/ukydev/fuel-cycle/internal/models"
)

// Snapshot is the merged view of a cycle at one point in time. History may be
// built from a subset of the backing collections while the others are still
// loading.
type Snapshot struct {
	Cycle   models.Cycle
	History []models.Event
	Loaded  map[models.EventKind]bool
}

// Complete reports whether every backing collection has reported at least once.
func (s Snapshot) Complete() bool {
	for _, kind := range models.EventKinds {
		if !s.Loaded[kind] {
			return false
		}
	}
	return true
}

// Merger is the merge stage for one viewed cycle. Each backing collection is
// an independent input; every update, partial or not, recomputes the merged
// history and hands it to the change callback.
type Merger struct {
	mu       sync.Mutex
	cycle    models.Cycle
	streams  map[models.EventKind][]models.Event
	loaded   map[models.EventKind]bool
	onChange func(Snapshot)
}

// NewMerger creates a merger for cycle. onChange runs with the merger locked
// and must not call back into it; it may be nil.
func NewMerger(cycle models.Cycle, onChange func(Snapshot)) *Merger {
	return &Merger{
		cycle:    cycle,
		streams:  make(map[models.EventKind][]models.Event),
		loaded:   make(map[models.EventKind]bool),
		onChange: onChange,
	}
}

// Update replaces the content of one backing collection.
func (m *Merger) Update(kind models.EventKind, events []models.Event) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !knownKind(kind) {
		return m.snapshotLocked()
	}
	m.streams[kind] = append([]models.Event(nil), events...)
	m.loaded[kind] = true
	return m.publishLocked()
}

// SetCycle replaces the cycle record. Switching to another cycle drops every
// collection received for the previous one.
func (m *Merger) SetCycle(cycle models.Cycle) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cycle.ID != m.cycle.ID {
		m.streams = make(map[models.EventKind][]models.Event)
		m.loaded = make(map[models.EventKind]bool)
	}
	m.cycle = cycle
	return m.publishLocked()
}

// Snapshot returns the current merged view without notifying.
func (m *Merger) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Merger) publishLocked() Snapshot {
	snap := m.snapshotLocked()
	if m.onChange != nil {
		m.onChange(snap)
	}
	return snap
}

func (m *Merger) snapshotLocked() Snapshot {
	loaded := make(map[models.EventKind]bool, len(m.loaded))
	for k, v := range m.loaded {
		loaded[k] = v
	}
	return Snapshot{
		Cycle: m.cycle,
		History: Merge(m.cycle,
			m.streams[models.RefuelEvents],
			m.streams[models.MileageEvents],
			m.streams[models.ConsumptionEvents],
		),
		Loaded: loaded,
	}
}

func knownKind(kind models.EventKind) bool {
	for _, k := range models.EventKinds {
		if k == kind {
			return true
		}
	}
	return false
}
