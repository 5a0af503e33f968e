package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-lifecycle/internal/auth"
	"github.com/example/ride-lifecycle/internal/availability"
	"github.com/example/ride-lifecycle/internal/cache"
	httpapi "github.com/example/ride-lifecycle/internal/http"
	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/matching"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/storage"
	"github.com/example/ride-lifecycle/internal/views"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type stack struct {
	url      string
	verifier *auth.Verifier
	gate     *availability.Gate
}

func newStack(t *testing.T) *stack {
	t.Helper()
	store := storage.NewMemoryStore()
	c := cache.NewMemory(time.Minute)
	gate := availability.NewGate(availability.NewMemoryStore(), quiet)
	engine := &lifecycle.Engine{Store: store, Gate: gate, Cache: c, Logger: quiet}
	verifier := auth.NewVerifier("k")
	srv := httpapi.NewServer(quiet, nil, httpapi.Deps{
		Engine:   engine,
		Gate:     gate,
		Offers:   &matching.Service{Gate: gate, Store: store, Engine: engine, Logger: quiet},
		Views:    &views.Service{Store: store, Cache: c, Logger: quiet},
		Verifier: verifier,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &stack{url: ts.URL, verifier: verifier, gate: gate}
}

func (s *stack) client(t *testing.T, c models.Caller) *Client {
	t.Helper()
	tok, err := s.verifier.Issue(c, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return New(s.url, tok, WithLogger(quiet), WithRetry(3, time.Millisecond))
}

func (s *stack) approve(t *testing.T, driverID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.gate.Register(ctx, driverID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.gate.SetApproval(ctx, driverID, models.ApprovalApproved); err != nil {
		t.Fatal(err)
	}
}

func TestClientRideFlow(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.approve(t, "d1")
	rider := s.client(t, models.Caller{ID: "u1", Name: "Rita", Role: models.RoleRider})
	driver := s.client(t, models.Caller{ID: "d1", Name: "Dev", Role: models.RoleDriver})

	if _, err := driver.SetAvailability(ctx, true); err != nil {
		t.Fatal(err)
	}
	ride, err := rider.RequestRide(ctx, models.Location{Address: "A"}, models.Location{Address: "B"})
	if err != nil {
		t.Fatal(err)
	}

	board := NewOfferBoard(driver, quiet)
	if err := board.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if offers := board.Offers(); len(offers) != 1 || offers[0].RideID != ride.ID {
		t.Fatalf("unexpected offers %+v", offers)
	}
	if _, err := board.Accept(ctx, ride.ID); err != nil {
		t.Fatal(err)
	}
	if len(board.Offers()) != 0 {
		t.Fatalf("board should refresh after accept")
	}

	_, err = rider.CancelRide(ctx, ride.ID, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden || !errors.Is(err, models.ErrCancellationNotAllowed) {
		t.Fatalf("expected CancellationNotAllowed, got %v", err)
	}

	if _, err := driver.AdvanceStatus(ctx, ride.ID, models.StatusOngoing, nil); err != nil {
		t.Fatal(err)
	}
	active, err := driver.ActiveRide(ctx)
	if err != nil || active == nil || active.ID != ride.ID {
		t.Fatalf("active=%v err=%v", active, err)
	}
	fare := 20.0
	if _, err := driver.AdvanceStatus(ctx, ride.ID, models.StatusCompleted, &fare); err != nil {
		t.Fatal(err)
	}
	if active, err := driver.ActiveRide(ctx); err != nil || active != nil {
		t.Fatalf("expected no active ride, got %v %v", active, err)
	}
	e, err := driver.Earnings(ctx, time.Time{}, time.Time{})
	if err != nil || e.Total != 20 {
		t.Fatalf("earnings=%+v err=%v", e, err)
	}
	rides, err := rider.History(ctx, []models.RideStatus{models.StatusCompleted}, time.Time{}, time.Time{})
	if err != nil || len(rides) != 1 {
		t.Fatalf("history=%v err=%v", rides, err)
	}
}

func TestReadRetriesOnTransportError(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"u1","role":"RIDER"}}`))
	}))
	defer ts.Close()

	c := New(ts.URL, "tok", WithLogger(quiet), WithRetry(3, time.Millisecond))
	me, err := c.Me(context.Background())
	if err != nil || me.ID != "u1" {
		t.Fatalf("me=%+v err=%v", me, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestMutationsAreNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := New(ts.URL, "tok", WithLogger(quiet), WithRetry(5, time.Millisecond))
	_, err := c.AcceptRide(context.Background(), "r1")
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("mutation retried: %d calls", calls)
	}
}

func TestConflictIsNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"success":false,"message":"not eligible","code":"NOT_ELIGIBLE"}`))
	}))
	defer ts.Close()

	c := New(ts.URL, "tok", WithLogger(quiet), WithRetry(5, time.Millisecond))
	if _, err := c.Offers(context.Background()); !errors.Is(err, models.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

type fakeOffers struct {
	mu      sync.Mutex
	offers  []models.RideOffer
	err     error
	fetches int
}

func (f *fakeOffers) Offers(context.Context) ([]models.RideOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.offers, f.err
}

func (f *fakeOffers) AcceptRide(_ context.Context, id string) (*models.Ride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = nil
	return nil, &APIError{Status: http.StatusConflict, Code: "ALREADY_RESOLVED", Message: "taken"}
}

func (f *fakeOffers) RejectRide(_ context.Context, id string) (*models.Ride, error) {
	return &models.Ride{ID: id}, nil
}

func TestOfferBoardRefreshesAfterConflict(t *testing.T) {
	f := &fakeOffers{offers: []models.RideOffer{{RideID: "r1"}}}
	b := NewOfferBoard(f, quiet)
	ctx := context.Background()
	_ = b.Refresh(ctx)

	_, err := b.Accept(ctx, "r1")
	if !errors.Is(err, models.ErrAlreadyResolved) || !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(b.Offers()) != 0 || f.fetches != 2 {
		t.Fatalf("expected refresh after conflict, offers=%v fetches=%d", b.Offers(), f.fetches)
	}
}

func TestOfferBoardIneligibleClears(t *testing.T) {
	f := &fakeOffers{offers: []models.RideOffer{{RideID: "r1"}}}
	b := NewOfferBoard(f, quiet)
	ctx := context.Background()
	_ = b.Refresh(ctx)

	f.mu.Lock()
	f.err = &APIError{Status: http.StatusForbidden, Code: "NOT_ELIGIBLE"}
	f.mu.Unlock()
	if err := b.Refresh(ctx); !errors.Is(err, models.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	if len(b.Offers()) != 0 || !errors.Is(b.Err(), models.ErrNotEligible) || b.RefreshedAt().IsZero() {
		t.Fatalf("ineligible driver should see an empty board, err=%v", b.Err())
	}
}

func TestOfferBoardPollStopsOnCancel(t *testing.T) {
	f := &fakeOffers{}
	b := NewOfferBoard(f, quiet)
	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	if err := b.Poll(ctx, 10*time.Millisecond, PollHooks{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected poll result %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetches < 2 {
		t.Fatalf("expected repeated refreshes, got %d", f.fetches)
	}
}

func TestOfferBoardPollHooks(t *testing.T) {
	f := &fakeOffers{offers: []models.RideOffer{{RideID: "r1"}}}
	b := NewOfferBoard(f, quiet)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var skips, seen int
	hooks := PollHooks{
		// the first tick pretends the driver is busy with a ride
		Skip: func(context.Context) bool {
			skips++
			return skips == 1
		},
		OnRefresh: func(_ context.Context, offers []models.RideOffer) {
			seen = len(offers)
			cancel()
		},
	}
	if err := b.Poll(ctx, time.Millisecond, hooks); !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected poll result %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if skips != 2 || f.fetches != 1 || seen != 1 {
		t.Fatalf("skips=%d fetches=%d seen=%d", skips, f.fetches, seen)
	}
}
