// Package availability decides whether a driver may be offered or accept rides.
package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
)

type Gate struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewGate(store Store, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Register provisions an offline, PENDING record for a new driver account.
// Registering an existing driver returns the stored record unchanged.
func (g *Gate) Register(ctx context.Context, driverID string) (models.DriverAvailability, error) {
	if driverID == "" {
		return models.DriverAvailability{}, fmt.Errorf("register driver: %w", models.ErrBadRequest)
	}
	return g.store.Create(ctx, models.DriverAvailability{
		DriverID:       driverID,
		ApprovalStatus: models.ApprovalPending,
		UpdatedAt:      g.now(),
	})
}

// SetAvailability toggles the driver's online flag. Going online requires
// APPROVED; going offline is always allowed and never touches rides already
// ACCEPTED or ONGOING.
func (g *Gate) SetAvailability(ctx context.Context, driverID string, available bool) (models.DriverAvailability, error) {
	var before bool
	rec, err := g.store.Update(ctx, driverID, func(a *models.DriverAvailability) error {
		before = a.Eligible()
		if available && a.ApprovalStatus != models.ApprovalApproved {
			return fmt.Errorf("%w: approval status is %s", models.ErrNotApproved, a.ApprovalStatus)
		}
		a.IsAvailable = available
		a.UpdatedAt = g.now()
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotApproved) {
			g.logger.Info("availability_rejected", "driver_id", driverID, "approval", rec.ApprovalStatus)
		}
		return rec, err
	}
	trackEligibility(before, rec.Eligible())
	g.logger.Info("availability_changed", "driver_id", driverID, "is_available", rec.IsAvailable)
	return rec, nil
}

// SetApproval is the administrative path; it never changes isAvailable.
// A driver without a record yet is provisioned first.
func (g *Gate) SetApproval(ctx context.Context, driverID string, status models.ApprovalStatus) (models.DriverAvailability, error) {
	if _, err := g.Register(ctx, driverID); err != nil {
		return models.DriverAvailability{}, err
	}
	var before bool
	rec, err := g.store.Update(ctx, driverID, func(a *models.DriverAvailability) error {
		before = a.Eligible()
		a.ApprovalStatus = status
		a.UpdatedAt = g.now()
		return nil
	})
	if err != nil {
		return rec, err
	}
	trackEligibility(before, rec.Eligible())
	g.logger.Info("approval_changed", "driver_id", driverID, "approval", status)
	return rec, nil
}

func (g *Gate) Availability(ctx context.Context, driverID string) (models.DriverAvailability, error) {
	return g.store.Get(ctx, driverID)
}

// IsEligible is the only predicate consulted before offering a ride or
// allowing an accept. Unknown drivers are not eligible.
func (g *Gate) IsEligible(ctx context.Context, driverID string) (bool, error) {
	rec, err := g.store.Get(ctx, driverID)
	if errors.Is(err, models.ErrDriverNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Eligible(), nil
}

func (g *Gate) EligibleDrivers(ctx context.Context) ([]string, error) {
	return g.store.EligibleDrivers(ctx)
}

func trackEligibility(before, after bool) {
	switch {
	case !before && after:
		observability.DriversAvailable.Inc()
	case before && !after:
		observability.DriversAvailable.Dec()
	}
}
