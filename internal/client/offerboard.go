package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// OfferAPI is the subset of Client the board needs.
type OfferAPI interface {
	Offers(ctx context.Context) ([]models.RideOffer, error)
	AcceptRide(ctx context.Context, rideID string) (*models.Ride, error)
	RejectRide(ctx context.Context, rideID string) (*models.Ride, error)
}

// OfferBoard is a driver's local view of open offers. The view is stale by
// nature; it is refreshed on a timer and after every accept or reject,
// whether the mutation succeeded or lost a race.
type OfferBoard struct {
	api    OfferAPI
	logger *slog.Logger

	mu          sync.RWMutex
	offers      []models.RideOffer
	refreshedAt time.Time
	lastErr     error
}

func NewOfferBoard(api OfferAPI, logger *slog.Logger) *OfferBoard {
	if logger == nil {
		logger = slog.Default()
	}
	return &OfferBoard{api: api, logger: logger}
}

// Offers returns a copy of the last fetched offer list.
func (b *OfferBoard) Offers() []models.RideOffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.RideOffer, len(b.offers))
	copy(out, b.offers)
	return out
}

func (b *OfferBoard) RefreshedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.refreshedAt
}

// Err is the error of the last refresh, nil after a successful one.
func (b *OfferBoard) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// Refresh replaces the list from the server. A driver that is no longer
// eligible sees an empty board; other failures keep the previous list.
func (b *OfferBoard) Refresh(ctx context.Context) error {
	offers, err := b.api.Offers(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
	switch {
	case err == nil:
		b.offers = offers
		b.refreshedAt = time.Now()
	case errors.Is(err, models.ErrNotEligible):
		b.offers = nil
		b.refreshedAt = time.Now()
	}
	return err
}

func (b *OfferBoard) Accept(ctx context.Context, rideID string) (*models.Ride, error) {
	r, err := b.api.AcceptRide(ctx, rideID)
	b.afterMutation(ctx, "accept", rideID, err)
	return r, err
}

func (b *OfferBoard) Reject(ctx context.Context, rideID string) (*models.Ride, error) {
	r, err := b.api.RejectRide(ctx, rideID)
	b.afterMutation(ctx, "reject", rideID, err)
	return r, err
}

func (b *OfferBoard) afterMutation(ctx context.Context, op, rideID string, err error) {
	if err != nil {
		level := slog.LevelWarn
		if IsConflict(err) {
			level = slog.LevelInfo
		}
		b.logger.Log(ctx, level, "offer_"+op+"_failed", "ride_id", rideID, "error", err)
	}
	if rerr := b.Refresh(ctx); rerr != nil {
		b.logger.Warn("offer_refresh_failed", "after", op, "error", rerr)
	}
}

// PollHooks customize Poll. Skip is asked before each refresh and suppresses
// it when true; OnRefresh runs after every successful refresh.
type PollHooks struct {
	Skip      func(ctx context.Context) bool
	OnRefresh func(ctx context.Context, offers []models.RideOffer)
}

// Poll refreshes immediately and then every interval until ctx is done.
// Refresh failures are logged and do not stop the loop.
func (b *OfferBoard) Poll(ctx context.Context, interval time.Duration, hooks PollHooks) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.pollOnce(ctx, hooks)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (b *OfferBoard) pollOnce(ctx context.Context, hooks PollHooks) {
	if hooks.Skip != nil && hooks.Skip(ctx) {
		return
	}
	if err := b.Refresh(ctx); err != nil {
		if ctx.Err() == nil {
			b.logger.Warn("offer_poll_failed", "error", err)
		}
		return
	}
	if hooks.OnRefresh != nil {
		hooks.OnRefresh(ctx, b.Offers())
	}
}
