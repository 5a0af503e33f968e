package geo

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	if math.Abs(d-111195) > 100 {
		t.Fatalf("expected ~111km, got %f", d)
	}
}

func TestIndexPosition(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	if _, ok, _ := g.Position(ctx, "d1"); ok {
		t.Fatal("unknown driver should have no position")
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return at }
	_ = g.Update(ctx, "d1", models.Coord{Lat: 1, Lon: 2})
	f, ok, err := g.Position(ctx, "d1")
	if err != nil || !ok || f.Coord.Lat != 1 || f.Coord.Lon != 2 || !f.UpdatedAt.Equal(at) {
		t.Fatalf("f=%v ok=%v err=%v", f, ok, err)
	}
}

func TestFixStale(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := Fix{UpdatedAt: at}
	if f.Stale(at.Add(time.Minute), 5*time.Minute) {
		t.Fatal("one minute old fix reported stale")
	}
	if !f.Stale(at.Add(6*time.Minute), 5*time.Minute) {
		t.Fatal("six minute old fix not reported stale")
	}
	if f.Stale(at.Add(24*time.Hour), 0) {
		t.Fatal("zero max age must never expire a fix")
	}
	if !parseStamp("garbage").IsZero() || !parseStamp(at.Format(time.RFC3339)).Equal(at) {
		t.Fatal("unexpected stamp parsing")
	}
}

func TestValidCoord(t *testing.T) {
	if ValidCoord(models.Coord{Lat: 100}) {
		t.Fatal("lat 100 accepted")
	}
	if !ValidCoord(models.Coord{Lat: -33.9, Lon: 151.2}) {
		t.Fatal("valid coord rejected")
	}
}
