package views

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-lifecycle/internal/cache"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/storage"
)

// Service serves the views through a read-through cache of each caller's
// ride list. The lifecycle engine invalidates entries after every mutation.
type Service struct {
	Store  storage.RideStore
	Cache  cache.RideCache
	Logger *slog.Logger
}

// MyRides returns the caller's rides: riders see the rides they requested,
// drivers the rides assigned to them, admins every ride (uncached).
func (s *Service) MyRides(ctx context.Context, caller models.Caller) ([]*models.Ride, error) {
	var (
		key string
		q   storage.Query
	)
	switch caller.Role {
	case models.RoleRider:
		key, q = cache.RiderKey(caller.ID), storage.Query{RiderID: caller.ID}
	case models.RoleDriver:
		key, q = cache.DriverKey(caller.ID), storage.Query{DriverID: caller.ID}
	case models.RoleAdmin, models.RoleSystem:
		return s.Store.ListRides(ctx, storage.Query{})
	default:
		return nil, models.ErrForbidden
	}

	if s.Cache == nil {
		return s.list(ctx, caller.ID, q)
	}
	if rides, ok := s.Cache.Get(ctx, key); ok {
		observability.CacheLookups.WithLabelValues("hit").Inc()
		return rides, nil
	}
	observability.CacheLookups.WithLabelValues("miss").Inc()

	// the generation is read before the store so a mutation committed while
	// listing makes Set a no-op instead of caching the old list
	version, verr := s.Cache.Version(ctx, key)
	rides, err := s.list(ctx, caller.ID, q)
	if err != nil {
		return nil, err
	}
	if verr != nil {
		s.logger().WarnContext(ctx, "cache_version_failed", "key", key, "error", verr)
		return rides, nil
	}
	s.Cache.Set(ctx, key, version, rides)
	return rides, nil
}

func (s *Service) list(ctx context.Context, callerID string, q storage.Query) ([]*models.Ride, error) {
	rides, err := s.Store.ListRides(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list rides for %s: %w", callerID, err)
	}
	return rides, nil
}

func (s *Service) History(ctx context.Context, caller models.Caller, f HistoryFilter) ([]*models.Ride, error) {
	rides, err := s.MyRides(ctx, caller)
	if err != nil {
		return nil, err
	}
	return History(rides, f), nil
}

// Active reads the store directly so an integrity violation is never masked
// by a stale cache entry.
func (s *Service) Active(ctx context.Context, driverID string) (*models.Ride, error) {
	rides, err := s.Store.ListRides(ctx, storage.Query{
		DriverID: driverID,
		Statuses: []models.RideStatus{models.StatusAccepted, models.StatusOngoing},
	})
	if err != nil {
		return nil, fmt.Errorf("active ride for %s: %w", driverID, err)
	}
	r, err := ActiveRide(rides, driverID)
	if err != nil {
		s.logger().ErrorContext(ctx, "active_ride_integrity_violation", "driver_id", driverID, "error", err)
	}
	return r, err
}

func (s *Service) Earnings(ctx context.Context, driverID string, from, to time.Time) (Earnings, error) {
	rides, err := s.MyRides(ctx, models.Caller{ID: driverID, Role: models.RoleDriver})
	if err != nil {
		return Earnings{}, err
	}
	return EarningsFor(rides, driverID, from, to), nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
