package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/storage"
)

type fakeGate struct{ eligible map[string]bool }

func (f *fakeGate) IsEligible(_ context.Context, id string) (bool, error) { return f.eligible[id], nil }

type fakeLocator struct{ pos map[string]geo.Fix }

func (f *fakeLocator) Update(_ context.Context, id string, c models.Coord) error {
	f.pos[id] = geo.Fix{Coord: c, UpdatedAt: time.Now()}
	return nil
}

func (f *fakeLocator) Position(_ context.Context, id string) (geo.Fix, bool, error) {
	p, ok := f.pos[id]
	return p, ok, nil
}

func seed(t *testing.T, store *storage.MemoryStore, id string, status models.RideStatus, at time.Time, pickup *models.Coord) {
	t.Helper()
	err := store.CreateRide(context.Background(), &models.Ride{
		ID:          id,
		Rider:       models.PartyRef{ID: "u-" + id},
		Status:      status,
		Pickup:      models.Location{Address: "pickup " + id, Coord: pickup},
		Dropoff:     models.Location{Address: "dropoff " + id},
		RequestedAt: at,
		UpdatedAt:   at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func newService(store *storage.MemoryStore, gate *fakeGate) *Service {
	eng := &lifecycle.Engine{Store: store, Gate: gate}
	return &Service{Gate: gate, Store: store, Engine: eng}
}

func TestOffersOnlyForEligibleDrivers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seed(t, store, "r1", models.StatusRequested, time.Now(), nil)
	s := newService(store, &fakeGate{eligible: map[string]bool{"A": true}})

	if _, err := s.Offers(ctx, "B"); !errors.Is(err, models.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	offers, err := s.Offers(ctx, "A")
	if err != nil || len(offers) != 1 || offers[0].RideID != "r1" {
		t.Fatalf("offers=%v err=%v", offers, err)
	}
}

func TestOffersIncludeOnlyOpenRides(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()
	seed(t, store, "r1", models.StatusRequested, now, nil)
	seed(t, store, "r2", models.StatusPending, now.Add(time.Second), nil)
	seed(t, store, "r3", models.StatusCancelled, now, nil)
	seed(t, store, "r4", models.StatusAccepted, now, nil)
	s := newService(store, &fakeGate{eligible: map[string]bool{"A": true}})

	offers, _ := s.Offers(ctx, "A")
	if len(offers) != 2 || offers[0].RideID != "r1" || offers[1].RideID != "r2" {
		t.Fatalf("unexpected offers %v", offers)
	}
}

func TestOffersRankedByPickupDistance(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()
	seed(t, store, "far", models.StatusRequested, now, &models.Coord{Lat: 1, Lon: 1})
	seed(t, store, "nocoord", models.StatusRequested, now.Add(-time.Minute), nil)
	seed(t, store, "near", models.StatusRequested, now.Add(time.Second), &models.Coord{Lat: 0.001, Lon: 0})
	s := newService(store, &fakeGate{eligible: map[string]bool{"A": true}})
	s.Locator = &fakeLocator{pos: map[string]geo.Fix{"A": {Coord: models.Coord{Lat: 0, Lon: 0}, UpdatedAt: now}}}
	s.MaxPositionAge = 5 * time.Minute

	offers, _ := s.Offers(ctx, "A")
	got := []string{offers[0].RideID, offers[1].RideID, offers[2].RideID}
	if got[0] != "near" || got[1] != "far" || got[2] != "nocoord" {
		t.Fatalf("unexpected order %v", got)
	}
	if offers[0].DistanceMeters == nil || offers[2].DistanceMeters != nil {
		t.Fatal("distance should be set only for rides with coordinates")
	}
}

func TestStalePositionIsNotRanked(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()
	seed(t, store, "far", models.StatusRequested, now, &models.Coord{Lat: 1, Lon: 1})
	seed(t, store, "near", models.StatusRequested, now.Add(time.Second), &models.Coord{Lat: 0.001, Lon: 0})
	s := newService(store, &fakeGate{eligible: map[string]bool{"A": true}})
	s.Locator = &fakeLocator{pos: map[string]geo.Fix{"A": {UpdatedAt: now.Add(-time.Hour)}}}
	s.MaxPositionAge = 5 * time.Minute

	offers, _ := s.Offers(ctx, "A")
	if len(offers) != 2 || offers[0].RideID != "far" || offers[0].DistanceMeters != nil {
		t.Fatalf("stale position should leave requestedAt order: %+v", offers)
	}

	_ = s.Locator.Update(ctx, "A", models.Coord{})
	offers, _ = s.Offers(ctx, "A")
	if offers[0].RideID != "near" || offers[0].DistanceMeters == nil {
		t.Fatalf("fresh position should rank by distance: %+v", offers)
	}
}

func TestStaleOfferSurfacesAlreadyResolved(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seed(t, store, "r1", models.StatusRequested, time.Now(), nil)
	s := newService(store, &fakeGate{eligible: map[string]bool{"A": true, "B": true}})

	offersA, _ := s.Offers(ctx, "A")
	offersB, _ := s.Offers(ctx, "B")
	if _, err := s.Accept(ctx, models.PartyRef{ID: "A"}, offersA[0].RideID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Accept(ctx, models.PartyRef{ID: "B"}, offersB[0].RideID); !errors.Is(err, models.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if _, err := s.Reject(ctx, "B", offersB[0].RideID); !errors.Is(err, models.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved on reject, got %v", err)
	}
	if offers, _ := s.Offers(ctx, "B"); len(offers) != 0 {
		t.Fatalf("resolved ride still offered: %v", offers)
	}
}
