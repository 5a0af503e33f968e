// Package lifecycle is the only component that mutates ride status. Every
// mutation is a compare-and-set against the ride store; losing a race
// surfaces as a typed conflict instead of a silent overwrite.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-lifecycle/internal/cache"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/storage"
)

// maxCancelAttempts bounds re-evaluation when a cancel loses a race against
// a legal concurrent transition (e.g. ACCEPTED -> ONGOING).
const maxCancelAttempts = 3

// Eligibility is the availability predicate consulted before accept/reject.
type Eligibility interface {
	IsEligible(ctx context.Context, driverID string) (bool, error)
}

type Engine struct {
	Store  storage.RideStore
	Gate   Eligibility
	Events events.Publisher // optional
	Cache  cache.RideCache  // optional; invalidated after each mutation
	Logger *slog.Logger
	Now    func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// RequestRide creates a ride in REQUESTED.
func (e *Engine) RequestRide(ctx context.Context, rider models.PartyRef, pickup, dropoff models.Location) (*models.Ride, error) {
	if strings.TrimSpace(rider.ID) == "" {
		return nil, fmt.Errorf("request ride: rider id: %w", models.ErrBadRequest)
	}
	pickup.Address = strings.TrimSpace(pickup.Address)
	dropoff.Address = strings.TrimSpace(dropoff.Address)
	if err := validateRoute(pickup, dropoff); err != nil {
		return nil, err
	}
	now := e.now()
	r := &models.Ride{
		ID:          uuid.NewString(),
		Rider:       rider,
		Pickup:      pickup,
		Dropoff:     dropoff,
		Status:      models.StatusRequested,
		RequestedAt: now,
		UpdatedAt:   now,
	}
	if err := e.Store.CreateRide(ctx, r); err != nil {
		return nil, fmt.Errorf("request ride: %w", err)
	}
	observability.RidesRequested.Inc()
	e.commit(ctx, "", r, models.Caller{ID: rider.ID, Name: rider.Name, Role: models.RoleRider})
	return r, nil
}

// AcceptRide assigns the driver to an open ride. Of any number of
// concurrent accepts on the same ride exactly one succeeds; the others get
// ErrAlreadyResolved.
func (e *Engine) AcceptRide(ctx context.Context, driver models.PartyRef, rideID string) (*models.Ride, error) {
	if err := e.requireEligible(ctx, driver.ID); err != nil {
		return nil, fmt.Errorf("accept ride %s: %w", rideID, err)
	}
	r, err := e.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, fmt.Errorf("accept ride %s: %w", rideID, err)
	}
	if !r.Status.Open() || !models.CanTransition(r.Status, models.StatusAccepted, models.RoleDriver) {
		return nil, fmt.Errorf("accept ride %s (%s): %w", rideID, r.Status, models.ErrAlreadyResolved)
	}

	d := driver
	updated, err := e.Store.Transition(ctx, storage.Transition{
		RideID: rideID,
		From:   r.Status,
		To:     models.StatusAccepted,
		Driver: &d,
		At:     e.now(),
	})
	switch {
	case errors.Is(err, storage.ErrStatusConflict):
		e.conflict(ctx, "accept", rideID, updated)
		return nil, fmt.Errorf("accept ride %s: %w", rideID, models.ErrAlreadyResolved)
	case errors.Is(err, storage.ErrDriverBusy):
		return nil, fmt.Errorf("accept ride %s: %w: %v", rideID, models.ErrNotEligible, err)
	case err != nil:
		return nil, fmt.Errorf("accept ride %s: %w", rideID, err)
	}
	e.commit(ctx, r.Status, updated, models.Caller{ID: driver.ID, Name: driver.Name, Role: models.RoleDriver})
	return updated, nil
}

// RejectRide models an eligible driver passing on a broadcast offer.
func (e *Engine) RejectRide(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	if err := e.requireEligible(ctx, driverID); err != nil {
		return nil, fmt.Errorf("reject ride %s: %w", rideID, err)
	}
	r, err := e.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, fmt.Errorf("reject ride %s: %w", rideID, err)
	}
	if !r.Status.Open() || !models.CanTransition(r.Status, models.StatusRejected, models.RoleDriver) {
		return nil, fmt.Errorf("reject ride %s (%s): %w", rideID, r.Status, models.ErrAlreadyResolved)
	}
	updated, err := e.Store.Transition(ctx, storage.Transition{
		RideID: rideID,
		From:   r.Status,
		To:     models.StatusRejected,
		At:     e.now(),
	})
	if errors.Is(err, storage.ErrStatusConflict) {
		e.conflict(ctx, "reject", rideID, updated)
		return nil, fmt.Errorf("reject ride %s: %w", rideID, models.ErrAlreadyResolved)
	}
	if err != nil {
		return nil, fmt.Errorf("reject ride %s: %w", rideID, err)
	}
	e.commit(ctx, r.Status, updated, models.Caller{ID: driverID, Role: models.RoleDriver})
	return updated, nil
}

// CancelRide applies the cancellation rules for the actor's role: riders
// only while the ride is open, the assigned driver while ACCEPTED or
// ONGOING, admins and the system from any non-terminal status.
func (e *Engine) CancelRide(ctx context.Context, actor models.Caller, rideID, reason string) (*models.Ride, error) {
	r, err := e.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, fmt.Errorf("cancel ride %s: %w", rideID, err)
	}
	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		if err := checkCancel(r, actor); err != nil {
			return nil, fmt.Errorf("cancel ride %s (%s): %w", rideID, r.Status, err)
		}
		updated, err := e.Store.Transition(ctx, storage.Transition{
			RideID: rideID,
			From:   r.Status,
			To:     models.StatusCancelled,
			At:     e.now(),
			Reason: strings.TrimSpace(reason),
		})
		if errors.Is(err, storage.ErrStatusConflict) {
			e.conflict(ctx, "cancel", rideID, updated)
			if updated == nil {
				break
			}
			r = updated
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cancel ride %s: %w", rideID, err)
		}
		e.commit(ctx, r.Status, updated, actor)
		return updated, nil
	}
	return nil, fmt.Errorf("cancel ride %s: %w", rideID, models.ErrAlreadyResolved)
}

func checkCancel(r *models.Ride, actor models.Caller) error {
	if r.Status.Terminal() {
		return models.ErrAlreadyResolved
	}
	switch actor.Role {
	case models.RoleRider:
		if r.Rider.ID != actor.ID {
			return models.ErrForbidden
		}
		if !r.Status.Open() {
			return models.ErrCancellationNotAllowed
		}
	case models.RoleDriver:
		if r.Status.Open() {
			return models.ErrCancellationNotAllowed
		}
		if r.DriverID() != actor.ID {
			return models.ErrForbidden
		}
	case models.RoleAdmin, models.RoleSystem:
	default:
		return models.ErrForbidden
	}
	if !models.CanTransition(r.Status, models.StatusCancelled, actor.Role) {
		return models.ErrCancellationNotAllowed
	}
	return nil
}

// AdvanceStatus moves the assigned driver's ride ACCEPTED -> ONGOING or
// ONGOING -> COMPLETED. Fare may be supplied on either step.
func (e *Engine) AdvanceStatus(ctx context.Context, driverID, rideID string, next models.RideStatus, fare *float64) (*models.Ride, error) {
	if next != models.StatusOngoing && next != models.StatusCompleted {
		return nil, fmt.Errorf("advance ride %s to %s: %w", rideID, next, models.ErrInvalidTransition)
	}
	if fare != nil && (*fare < 0 || math.IsNaN(*fare) || math.IsInf(*fare, 0)) {
		return nil, fmt.Errorf("advance ride %s: %w", rideID, models.ErrInvalidFare)
	}
	r, err := e.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, fmt.Errorf("advance ride %s: %w", rideID, err)
	}
	if err := checkAdvance(r, driverID, next); err != nil {
		return nil, fmt.Errorf("advance ride %s (%s -> %s): %w", rideID, r.Status, next, err)
	}
	updated, err := e.Store.Transition(ctx, storage.Transition{
		RideID: rideID,
		From:   r.Status,
		To:     next,
		At:     e.now(),
		Fare:   fare,
	})
	if errors.Is(err, storage.ErrStatusConflict) {
		e.conflict(ctx, "advance", rideID, updated)
		if updated != nil && updated.Status.Terminal() {
			return nil, fmt.Errorf("advance ride %s: %w", rideID, models.ErrAlreadyResolved)
		}
		return nil, fmt.Errorf("advance ride %s: %w", rideID, models.ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("advance ride %s: %w", rideID, err)
	}
	e.commit(ctx, r.Status, updated, models.Caller{ID: driverID, Role: models.RoleDriver})
	return updated, nil
}

func checkAdvance(r *models.Ride, driverID string, next models.RideStatus) error {
	if r.Status.Terminal() {
		return models.ErrAlreadyResolved
	}
	if r.DriverID() == "" || r.DriverID() != driverID {
		return models.ErrForbidden
	}
	if !models.CanTransition(r.Status, next, models.RoleDriver) {
		return models.ErrInvalidTransition
	}
	return nil
}

func (e *Engine) requireEligible(ctx context.Context, driverID string) error {
	if driverID == "" {
		return models.ErrNotEligible
	}
	ok, err := e.Gate.IsEligible(ctx, driverID)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotEligible
	}
	return nil
}

func (e *Engine) conflict(ctx context.Context, op, rideID string, current *models.Ride) {
	observability.TransitionConflicts.WithLabelValues(op).Inc()
	args := []any{"operation", op, "ride_id", rideID}
	if current != nil {
		args = append(args, "current_status", current.Status)
	}
	e.logger().InfoContext(ctx, "ride_transition_conflict", args...)
}

// commit runs the post-transition side effects. None of them can undo the
// transition, so failures are logged only.
func (e *Engine) commit(ctx context.Context, from models.RideStatus, r *models.Ride, actor models.Caller) {
	observability.RideTransitions.WithLabelValues(string(from), string(r.Status)).Inc()
	e.logger().InfoContext(ctx, "ride_transition",
		"ride_id", r.ID,
		"from", from,
		"to", r.Status,
		"actor_id", actor.ID,
		"actor_role", actor.Role,
	)
	if e.Cache != nil {
		if err := e.Cache.Invalidate(ctx, cache.KeysFor(r.Rider.ID, r.DriverID())...); err != nil {
			e.logger().WarnContext(ctx, "cache_invalidate_failed", "ride_id", r.ID, "error", err)
		}
	}
	if e.Events == nil {
		return
	}
	ev := models.RideEvent{
		ID:         uuid.NewString(),
		Type:       models.EventTypeFor(r.Status),
		RideID:     r.ID,
		RiderID:    r.Rider.ID,
		DriverID:   r.DriverID(),
		From:       from,
		To:         r.Status,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		OccurredAt: r.UpdatedAt,
	}
	if err := e.Events.Publish(ctx, ev); err != nil {
		observability.EventsPublishFailures.Inc()
		e.logger().ErrorContext(ctx, "ride_event_publish_failed", "ride_id", r.ID, "type", ev.Type, "error", err)
	}
}

func validateRoute(pickup, dropoff models.Location) error {
	if pickup.Address == "" || dropoff.Address == "" {
		return models.ErrInvalidRoute
	}
	for _, c := range []*models.Coord{pickup.Coord, dropoff.Coord} {
		if c == nil {
			continue
		}
		if !geo.ValidCoord(*c) {
			return fmt.Errorf("%w: coordinates out of range", models.ErrInvalidRoute)
		}
	}
	return nil
}
