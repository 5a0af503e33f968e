package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-lifecycle/internal/models"
)

// EventLog is the append-only ride event history. Appends are idempotent on
// event id so redelivered messages are harmless.
type EventLog interface {
	AppendEvent(ctx context.Context, e models.RideEvent) error
	EventsForRide(ctx context.Context, rideID string) ([]models.RideEvent, error)
}

type MemoryEventLog struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	events []models.RideEvent
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{seen: make(map[string]struct{})}
}

func (m *MemoryEventLog) AppendEvent(_ context.Context, e models.RideEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[e.ID]; ok {
		return nil
	}
	m.seen[e.ID] = struct{}{}
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryEventLog) EventsForRide(_ context.Context, rideID string) ([]models.RideEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RideEvent
	for _, e := range m.events {
		if e.RideID == rideID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, e models.RideEvent) error {
	_, err := p.db.NamedExecContext(ctx, `INSERT INTO ride_events
		(id, event_type, ride_id, rider_id, driver_id, from_status, to_status, actor_id, actor_role, occurred_at)
		VALUES (:id, :event_type, :ride_id, :rider_id, :driver_id, :from_status, :to_status, :actor_id, :actor_role, :occurred_at)
		ON CONFLICT (id) DO NOTHING`, e)
	return err
}

func (p *PostgresStore) EventsForRide(ctx context.Context, rideID string) ([]models.RideEvent, error) {
	var out []models.RideEvent
	err := p.db.SelectContext(ctx, &out, `SELECT id, event_type, ride_id, rider_id, driver_id, from_status,
		to_status, actor_id, actor_role, occurred_at FROM ride_events WHERE ride_id=$1 ORDER BY occurred_at ASC`, rideID)
	return out, err
}
