package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

var (
	// ErrStatusConflict means the ride was no longer in the expected status.
	ErrStatusConflict = errors.New("ride status changed concurrently")
	// ErrDriverBusy means the driver already holds an ACCEPTED or ONGOING ride.
	ErrDriverBusy = errors.New("driver already has an active ride")
	ErrDuplicate  = errors.New("ride already exists")
)

// Transition is a compare-and-set status change: it applies only while the
// stored status still equals From.
type Transition struct {
	RideID string
	From   models.RideStatus
	To     models.RideStatus
	Driver *models.PartyRef // set on acceptance
	At     time.Time
	Fare   *float64
	Reason string
}

// Query filters ListRides. Empty fields match everything.
type Query struct {
	RiderID  string
	DriverID string
	Statuses []models.RideStatus
}

// RideStore is the authoritative ride record store.
//
// Transition returns the current ride together with ErrStatusConflict when
// the compare fails, so callers can classify the conflict without a re-read.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	Transition(ctx context.Context, t Transition) (*models.Ride, error)
	ListRides(ctx context.Context, q Query) ([]*models.Ride, error)
}

// apply mutates r according to t. The caller has already checked From.
func apply(r *models.Ride, t Transition) {
	r.Status = t.To
	if t.Driver != nil {
		d := *t.Driver
		r.Driver = &d
	}
	at := t.At
	switch t.To {
	case models.StatusOngoing:
		r.PickUpAt = &at
	case models.StatusCompleted:
		r.CompletedAt = &at
	case models.StatusCancelled:
		r.CancelledAt = &at
		if t.Reason != "" {
			r.CancellationReason = t.Reason
		}
	}
	if t.Fare != nil {
		f := *t.Fare
		r.Fare = &f
	}
	r.UpdatedAt = at
}

func (q Query) matches(r *models.Ride) bool {
	if q.RiderID != "" && r.Rider.ID != q.RiderID {
		return false
	}
	if q.DriverID != "" && r.DriverID() != q.DriverID {
		return false
	}
	if len(q.Statuses) == 0 {
		return true
	}
	for _, s := range q.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return ErrDuplicate
	}
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) Transition(_ context.Context, t Transition) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[t.RideID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.Status != t.From {
		return r.Clone(), ErrStatusConflict
	}
	if t.To == models.StatusAccepted && t.Driver != nil {
		for _, other := range m.rides {
			if other.ID != r.ID && other.Status.Active() && other.DriverID() == t.Driver.ID {
				return r.Clone(), ErrDriverBusy
			}
		}
	}
	apply(r, t)
	return r.Clone(), nil
}

// ListRides returns matching rides ordered by requestedAt, oldest first.
func (m *MemoryStore) ListRides(_ context.Context, q Query) ([]*models.Ride, error) {
	m.mu.RLock()
	out := make([]*models.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		if q.matches(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}
