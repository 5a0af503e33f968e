// Package matching is the pull-based offer surface: eligible drivers list
// open rides and resolve them through the lifecycle engine.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/storage"
)

type Service struct {
	Gate    lifecycle.Eligibility
	Store   storage.RideStore
	Engine  *lifecycle.Engine
	Locator geo.Locator // optional

	// MaxPositionAge drops driver positions older than this from ranking;
	// zero keeps every position.
	MaxPositionAge time.Duration
	Logger         *slog.Logger
}

var openStatuses = []models.RideStatus{models.StatusRequested, models.StatusPending}

// Offers returns the open rides visible to driverID. Ineligible drivers get
// ErrNotEligible rather than an empty list so clients can tell the two apart.
func (s *Service) Offers(ctx context.Context, driverID string) ([]models.RideOffer, error) {
	ok, err := s.Gate.IsEligible(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("offers for %s: %w", driverID, err)
	}
	if !ok {
		return nil, fmt.Errorf("offers for %s: %w", driverID, models.ErrNotEligible)
	}
	rides, err := s.Store.ListRides(ctx, storage.Query{Statuses: openStatuses})
	if err != nil {
		return nil, fmt.Errorf("offers for %s: %w", driverID, err)
	}

	offers := make([]models.RideOffer, 0, len(rides))
	for _, r := range rides {
		offers = append(offers, models.OfferFromRide(r))
	}
	s.rank(ctx, driverID, offers)
	observability.OffersServed.Add(float64(len(offers)))
	return offers, nil
}

// rank orders offers nearest pickup first when the driver's position is
// known and fresh; offers without pickup coordinates keep requestedAt order
// after them.
func (s *Service) rank(ctx context.Context, driverID string, offers []models.RideOffer) {
	if s.Locator == nil || len(offers) < 2 {
		return
	}
	fix, ok, err := s.Locator.Position(ctx, driverID)
	if err != nil {
		s.logger().WarnContext(ctx, "driver_position_lookup_failed", "driver_id", driverID, "error", err)
		return
	}
	if !ok {
		return
	}
	if fix.Stale(time.Now(), s.MaxPositionAge) {
		s.logger().DebugContext(ctx, "driver_position_stale", "driver_id", driverID, "updated_at", fix.UpdatedAt)
		return
	}
	for i := range offers {
		if c := offers[i].Pickup.Coord; c != nil {
			d := geo.Distance(fix.Coord, *c)
			offers[i].DistanceMeters = &d
		}
	}
	sort.SliceStable(offers, func(i, j int) bool {
		a, b := offers[i].DistanceMeters, offers[j].DistanceMeters
		switch {
		case a != nil && b != nil:
			return *a < *b
		case a != nil:
			return true
		default:
			return false
		}
	})
}

// Accept resolves an offer. A stale offer surfaces ErrAlreadyResolved.
func (s *Service) Accept(ctx context.Context, driver models.PartyRef, rideID string) (*models.Ride, error) {
	r, err := s.Engine.AcceptRide(ctx, driver, rideID)
	if errors.Is(err, models.ErrAlreadyResolved) {
		s.logger().InfoContext(ctx, "stale_offer", "driver_id", driver.ID, "ride_id", rideID, "operation", "accept")
	}
	return r, err
}

func (s *Service) Reject(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	r, err := s.Engine.RejectRide(ctx, driverID, rideID)
	if errors.Is(err, models.ErrAlreadyResolved) {
		s.logger().InfoContext(ctx, "stale_offer", "driver_id", driverID, "ride_id", rideID, "operation", "reject")
	}
	return r, err
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
