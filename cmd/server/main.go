package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/auth"
	"github.com/example/ride-lifecycle/internal/availability"
	"github.com/example/ride-lifecycle/internal/cache"
	"github.com/example/ride-lifecycle/internal/config"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/geo"
	httpapi "github.com/example/ride-lifecycle/internal/http"
	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/logging"
	"github.com/example/ride-lifecycle/internal/matching"
	"github.com/example/ride-lifecycle/internal/storage"
	"github.com/example/ride-lifecycle/internal/views"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, "ride-api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		availStore availability.Store = availability.NewMemoryStore()
		rideCache  cache.RideCache    = cache.NewMemory(cfg.CacheTTL)
		locator    geo.Locator        = geo.NewIndex()
		store      storage.RideStore  = storage.NewMemoryStore()
		eventLog   storage.EventLog   = storage.NewMemoryEventLog()
		publisher  events.Publisher
		checks     []func(context.Context) error
	)

	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		availStore = availability.NewRedisStore(rc)
		rideCache = cache.NewRedis(rc, cfg.CacheTTL, logger)
		locator = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		checks = append(checks, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
		logger.Info("redis enabled", "addr", cfg.RedisAddr)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory availability, cache and geo index")
	}

	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		if cfg.RunMigrations {
			applied, err := ps.Migrate(ctx, cfg.MigrationsDir)
			if err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied", "files", applied)
		}
		store = ps
		eventLog = ps
		checks = append(checks, ps.Ping)
		logger.Info("postgres enabled")
	} else {
		logger.Warn("PG_DSN not set, using in-memory ride store")
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		if cfg.PGDSN == "" {
			// the consumer owns the event history; this process cannot read it
			eventLog = nil
		}
		logger.Info("kafka enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		publisher = events.LogPublisher{Log: eventLog}
		logger.Warn("KAFKA_BROKERS not set, ride events are appended to the event log in-process")
	}
	if cfg.CacheTTL == 0 {
		rideCache = cache.Nop{}
		logger.Info("ride list cache disabled")
	}

	gate := availability.NewGate(availStore, logger)
	engine := &lifecycle.Engine{Store: store, Gate: gate, Events: publisher, Cache: rideCache, Logger: logger}
	offers := &matching.Service{
		Gate:           gate,
		Store:          store,
		Engine:         engine,
		Locator:        locator,
		MaxPositionAge: cfg.PositionMaxAge,
		Logger:         logger,
	}
	api := httpapi.NewServer(logger, cfg.CORSAllowedOrigins, httpapi.Deps{
		Engine:   engine,
		Gate:     gate,
		Offers:   offers,
		Views:    &views.Service{Store: store, Cache: rideCache, Logger: logger},
		Locator:  locator,
		EventLog: eventLog,
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Health: func(ctx context.Context) error {
			for _, check := range checks {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-lifecycle api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}
