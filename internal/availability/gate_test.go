package availability

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-lifecycle/internal/models"
)

func newGate(t *testing.T, approvals map[string]models.ApprovalStatus) *Gate {
	t.Helper()
	g := NewGate(NewMemoryStore(), nil)
	for id, a := range approvals {
		if _, err := g.Register(context.Background(), id); err != nil {
			t.Fatal(err)
		}
		if _, err := g.SetApproval(context.Background(), id, a); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func TestSetAvailabilityRequiresApproval(t *testing.T) {
	ctx := context.Background()
	for _, a := range []models.ApprovalStatus{models.ApprovalPending, models.ApprovalSuspended} {
		g := newGate(t, map[string]models.ApprovalStatus{"d1": a})
		_, err := g.SetAvailability(ctx, "d1", true)
		if !errors.Is(err, models.ErrNotApproved) {
			t.Fatalf("approval %s: expected ErrNotApproved, got %v", a, err)
		}
		rec, _ := g.Availability(ctx, "d1")
		if rec.IsAvailable {
			t.Fatalf("approval %s: driver went online", a)
		}
	}
}

func TestEligibility(t *testing.T) {
	ctx := context.Background()
	g := newGate(t, map[string]models.ApprovalStatus{"d1": models.ApprovalApproved})

	if ok, _ := g.IsEligible(ctx, "d1"); ok {
		t.Fatal("offline driver should not be eligible")
	}
	if _, err := g.SetAvailability(ctx, "d1", true); err != nil {
		t.Fatal(err)
	}
	if ok, _ := g.IsEligible(ctx, "d1"); !ok {
		t.Fatal("approved online driver should be eligible")
	}
	ids, _ := g.EligibleDrivers(ctx)
	if len(ids) != 1 || ids[0] != "d1" {
		t.Fatalf("unexpected eligible set %v", ids)
	}

	if _, err := g.SetApproval(ctx, "d1", models.ApprovalSuspended); err != nil {
		t.Fatal(err)
	}
	if ok, _ := g.IsEligible(ctx, "d1"); ok {
		t.Fatal("suspended driver should not be eligible")
	}
	rec, _ := g.Availability(ctx, "d1")
	if !rec.IsAvailable {
		t.Fatal("approval change must not toggle isAvailable")
	}
}

func TestGoingOfflineAlwaysAllowed(t *testing.T) {
	ctx := context.Background()
	g := newGate(t, map[string]models.ApprovalStatus{"d1": models.ApprovalSuspended})
	rec, err := g.SetAvailability(ctx, "d1", false)
	if err != nil || rec.IsAvailable {
		t.Fatalf("rec=%+v err=%v", rec, err)
	}
}

func TestUnknownDriver(t *testing.T) {
	ctx := context.Background()
	g := NewGate(NewMemoryStore(), nil)
	if ok, err := g.IsEligible(ctx, "ghost"); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if _, err := g.SetAvailability(ctx, "ghost", false); !errors.Is(err, models.ErrDriverNotFound) {
		t.Fatalf("expected ErrDriverNotFound, got %v", err)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := newGate(t, map[string]models.ApprovalStatus{"d1": models.ApprovalApproved})
	rec, err := g.Register(ctx, "d1")
	if err != nil || rec.ApprovalStatus != models.ApprovalApproved {
		t.Fatalf("re-register overwrote record: %+v err=%v", rec, err)
	}
}

func TestApprovalProvisionsUnknownDriver(t *testing.T) {
	ctx := context.Background()
	g := NewGate(NewMemoryStore(), nil)
	rec, err := g.SetApproval(ctx, "fresh", models.ApprovalApproved)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ApprovalStatus != models.ApprovalApproved || rec.IsAvailable {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := g.SetAvailability(ctx, "fresh", true); err != nil {
		t.Fatalf("approved driver should go online: %v", err)
	}
	if _, err := g.SetApproval(ctx, "", models.ApprovalApproved); !errors.Is(err, models.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for empty id, got %v", err)
	}
}
