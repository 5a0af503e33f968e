package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequested   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "rides_requested_total", Help: "Total rides requested"})
	DriversAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_lifecycle", Name: "drivers_available", Help: "Number of eligible drivers seen by this process"})
	OffersServed     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "offers_served_total", Help: "Total ride offers returned to drivers"})

	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "ride_transitions_total", Help: "Successful ride status transitions"},
		[]string{"from", "to"},
	)
	TransitionConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "transition_conflicts_total", Help: "Transitions lost to a concurrent change"},
		[]string{"operation"},
	)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "cache_lookups_total", Help: "Ride list cache lookups"},
		[]string{"result"},
	)
	EventsPublishFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "event_publish_failures_total", Help: "Lifecycle events that failed to publish"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_lifecycle",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
