// Command poller is a headless driver app: it keeps an offer board fresh
// against the API and optionally accepts the nearest offer.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-lifecycle/internal/auth"
	"github.com/example/ride-lifecycle/internal/client"
	"github.com/example/ride-lifecycle/internal/config"
	"github.com/example/ride-lifecycle/internal/logging"
	"github.com/example/ride-lifecycle/internal/models"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadPollerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var (
		goOnline   bool
		autoAccept bool
		devSecret  string
		driverID   string
	)
	flag.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "ride API base URL")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "bearer token of the driver")
	flag.DurationVar(&cfg.PollInterval, "interval", cfg.PollInterval, "offer refresh interval (15s-30s)")
	flag.BoolVar(&goOnline, "online", false, "mark the driver available before polling")
	flag.BoolVar(&autoAccept, "auto-accept", false, "accept the first offer on each refresh")
	flag.StringVar(&devSecret, "dev-jwt-secret", "", "mint a local driver token with this secret instead of -token")
	flag.StringVar(&driverID, "driver-id", "", "driver id used with -dev-jwt-secret")
	flag.Parse()

	logger := logging.NewLogger(cfg.LogLevel, "ride-poller")
	if err := config.ValidatePollInterval(cfg.PollInterval); err != nil {
		logger.Error("invalid interval", "error", err)
		os.Exit(2)
	}
	if devSecret != "" {
		tok, err := auth.NewVerifier(devSecret).Issue(models.Caller{ID: driverID, Role: models.RoleDriver}, 12*time.Hour)
		if err != nil {
			logger.Error("mint dev token", "error", err)
			os.Exit(2)
		}
		cfg.Token = tok
	}
	if cfg.Token == "" {
		logger.Error("a driver token is required (API_TOKEN, -token or -dev-jwt-secret)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.APIBaseURL, cfg.Token,
		client.WithLogger(logger),
		client.WithHTTPClient(&http.Client{Timeout: cfg.PollInterval / 2}),
	)
	me, err := api.Me(ctx)
	if err != nil {
		logger.Error("identify driver", "error", err)
		os.Exit(1)
	}
	if me.Role != models.RoleDriver {
		logger.Error("token does not belong to a driver", "role", me.Role)
		os.Exit(1)
	}
	if goOnline {
		rec, err := api.SetAvailability(ctx, true)
		if err != nil {
			logger.Error("go online", "error", err)
			os.Exit(1)
		}
		logger.Info("driver online", "driver_id", rec.DriverID, "approval", rec.ApprovalStatus)
	}

	board := client.NewOfferBoard(api, logger)
	logger.Info("polling offers", "driver_id", me.ID, "interval", cfg.PollInterval.String())
	err = board.Poll(ctx, cfg.PollInterval, client.PollHooks{
		Skip: func(ctx context.Context) bool { return hasActiveRide(ctx, logger, api) },
		OnRefresh: func(ctx context.Context, offers []models.RideOffer) {
			logger.Info("offers", "count", len(offers), "refreshed_at", board.RefreshedAt())
			if autoAccept && len(offers) > 0 {
				acceptFirst(ctx, logger, board, offers[0])
			}
		},
	})
	logger.Info("poller stopped", "reason", err)
}

// hasActiveRide pauses offer polling while the driver is on a ride.
func hasActiveRide(ctx context.Context, logger *slog.Logger, api *client.Client) bool {
	active, err := api.ActiveRide(ctx)
	if err != nil {
		logger.Warn("active ride lookup", "error", err)
		return false
	}
	if active == nil {
		return false
	}
	logger.Info("active ride", "ride_id", active.ID, "status", active.Status)
	return true
}

func acceptFirst(ctx context.Context, logger *slog.Logger, board *client.OfferBoard, offer models.RideOffer) {
	ride, err := board.Accept(ctx, offer.RideID)
	if err != nil {
		if client.IsConflict(err) {
			logger.Info("offer taken", "ride_id", offer.RideID)
			return
		}
		logger.Warn("accept offer", "ride_id", offer.RideID, "error", err)
		return
	}
	logger.Info("ride accepted", "ride_id", ride.ID, "pickup", ride.Pickup.Address)
}
