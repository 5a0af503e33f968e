package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-lifecycle/internal/cache"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/storage"
)

// fakeInvalidator fails the first failN calls.
type fakeInvalidator struct {
	failN int
	calls int
	keys  []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, keys ...string) error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("redis down")
	}
	f.keys = keys
	return nil
}

type failingLog struct{ calls int }

func (f *failingLog) AppendEvent(context.Context, models.RideEvent) error {
	f.calls++
	return errors.New("pg down")
}

var accepted = models.RideEvent{
	ID:       "e1",
	Type:     models.EventRideAccepted,
	RideID:   "r1",
	RiderID:  "u1",
	DriverID: "d1",
	From:     models.StatusRequested,
	To:       models.StatusAccepted,
}

func TestApplyEventWithRetry_SucceedsAfterRetries(t *testing.T) {
	ctx := context.Background()
	log := storage.NewMemoryEventLog()
	inv := &fakeInvalidator{failN: 1}
	start := time.Now()
	if err := applyEventWithRetry(ctx, log, inv, accepted, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if inv.calls != 2 {
		t.Fatalf("expected a retry, got %d invalidate calls", inv.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	want := cache.KeysFor("u1", "d1")
	if len(inv.keys) != len(want) || inv.keys[0] != want[0] {
		t.Fatalf("unexpected keys %v", inv.keys)
	}

	// the retried append must not duplicate the event
	got, _ := log.EventsForRide(ctx, "r1")
	if len(got) != 1 {
		t.Fatalf("expected one logged event, got %d", len(got))
	}
}

func TestApplyEventWithRetry_FailsWhenExhausted(t *testing.T) {
	log := &failingLog{}
	inv := &fakeInvalidator{}
	if err := applyEventWithRetry(context.Background(), log, inv, accepted, 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if log.calls != 3 || inv.calls != 0 {
		t.Fatalf("log=%d inv=%d", log.calls, inv.calls)
	}
}

func TestApplyEventWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := applyEventWithRetry(ctx, &failingLog{}, &fakeInvalidator{}, accepted, 5, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
