package availability

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-lifecycle/internal/models"
)

// Store persists per-driver availability records.
type Store interface {
	Get(ctx context.Context, driverID string) (models.DriverAvailability, error)
	// Create inserts rec unless a record already exists, returning the stored one.
	Create(ctx context.Context, rec models.DriverAvailability) (models.DriverAvailability, error)
	// Update applies fn to the current record atomically. fn errors abort the update.
	Update(ctx context.Context, driverID string, fn func(*models.DriverAvailability) error) (models.DriverAvailability, error)
	EligibleDrivers(ctx context.Context) ([]string, error)
}

type MemoryStore struct {
	mu      sync.Mutex
	drivers map[string]models.DriverAvailability
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[string]models.DriverAvailability)}
}

func (m *MemoryStore) Get(_ context.Context, driverID string) (models.DriverAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[driverID]
	if !ok {
		return models.DriverAvailability{}, models.ErrDriverNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Create(_ context.Context, rec models.DriverAvailability) (models.DriverAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.drivers[rec.DriverID]; ok {
		return cur, nil
	}
	m.drivers[rec.DriverID] = rec
	return rec, nil
}

func (m *MemoryStore) Update(_ context.Context, driverID string, fn func(*models.DriverAvailability) error) (models.DriverAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[driverID]
	if !ok {
		return models.DriverAvailability{}, models.ErrDriverNotFound
	}
	next := rec
	if err := fn(&next); err != nil {
		return rec, err
	}
	m.drivers[driverID] = next
	return next, nil
}

func (m *MemoryStore) EligibleDrivers(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, rec := range m.drivers {
		if rec.Eligible() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
