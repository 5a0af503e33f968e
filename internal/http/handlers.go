package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-lifecycle/internal/auth"
	"github.com/example/ride-lifecycle/internal/availability"
	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/matching"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/storage"
	"github.com/example/ride-lifecycle/internal/views"
)

// Deps are the services behind the API. Health is optional and backs
// /healthz; without EventLog the admin event history route is not served.
type Deps struct {
	Engine   *lifecycle.Engine
	Gate     *availability.Gate
	Offers   *matching.Service
	Views    *views.Service
	Locator  geo.Locator
	EventLog storage.EventLog
	Verifier *auth.Verifier
	Health   func(ctx context.Context) error
}

type Server struct {
	engine   *lifecycle.Engine
	gate     *availability.Gate
	offers   *matching.Service
	views    *views.Service
	locator  geo.Locator
	eventLog storage.EventLog
	verifier *auth.Verifier
	health   func(ctx context.Context) error

	logger  *slog.Logger
	mux     *mux.Router
	handler http.Handler
}

func NewServer(logger *slog.Logger, allowedOrigins []string, d Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	s := &Server{
		engine:   d.Engine,
		gate:     d.Gate,
		offers:   d.Offers,
		views:    d.Views,
		locator:  d.Locator,
		eventLog: d.EventLog,
		verifier: d.Verifier,
		health:   d.Health,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	s.handler = cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})(s.mux)
	return s
}

func (s *Server) routes() {
	rider, driver, admin := models.RoleRider, models.RoleDriver, models.RoleAdmin

	s.mux.HandleFunc("/ride/request", s.authenticated(s.handleRequestRide, rider)).Methods("POST")
	s.mux.HandleFunc("/ride/accept/{rideId}", s.authenticated(s.handleAcceptRide, driver)).Methods("PATCH")
	s.mux.HandleFunc("/ride/reject/{rideId}", s.authenticated(s.handleRejectRide, driver)).Methods("PATCH")
	s.mux.HandleFunc("/ride/cancel/{rideId}", s.authenticated(s.handleCancelRide)).Methods("PATCH")
	s.mux.HandleFunc("/ride/my-rides", s.authenticated(s.handleMyRides)).Methods("GET")
	s.mux.HandleFunc("/ride/history", s.authenticated(s.handleHistory)).Methods("GET")
	s.mux.HandleFunc("/ride/offers", s.authenticated(s.handleOffers, driver)).Methods("GET")
	s.mux.HandleFunc("/ride/active", s.authenticated(s.handleActiveRide, driver)).Methods("GET")
	s.mux.HandleFunc("/ride/earnings", s.authenticated(s.handleEarnings, driver)).Methods("GET")
	s.mux.HandleFunc("/ride/{rideId}/status", s.authenticated(s.handleAdvanceStatus, driver)).Methods("PATCH")

	s.mux.HandleFunc("/driver/availability", s.authenticated(s.handleSetAvailability, driver)).Methods("PATCH")
	s.mux.HandleFunc("/driver/availability", s.authenticated(s.handleGetAvailability, driver)).Methods("GET")
	s.mux.HandleFunc("/driver/location", s.authenticated(s.handleDriverLocation, driver)).Methods("PUT")
	s.mux.HandleFunc("/user/me", s.authenticated(s.handleMe)).Methods("GET")

	s.mux.HandleFunc("/admin/drivers/{driverId}/approval", s.authenticated(s.handleSetApproval, admin)).Methods("PATCH")
	s.mux.HandleFunc("/admin/drivers/eligible", s.authenticated(s.handleEligibleDrivers, admin)).Methods("GET")
	s.mux.HandleFunc("/admin/rides/{rideId}/cancel", s.authenticated(s.handleCancelRide, admin)).Methods("PATCH")
	if s.eventLog != nil {
		s.mux.HandleFunc("/admin/rides/{rideId}/events", s.authenticated(s.handleRideEvents, admin)).Methods("GET")
	}

	s.mux.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

type rideRequestBody struct {
	Pickup  models.Location `json:"pickupLocation"`
	Dropoff models.Location `json:"dropoffLocation"`
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	c := callerOf(r)
	var body rideRequestBody
	if err := decodeBody(r, &body, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.engine.RequestRide(r.Context(), models.PartyRef{ID: c.ID, Name: c.Name}, body.Pickup, body.Dropoff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, ride)
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	c := callerOf(r)
	ride, err := s.offers.Accept(r.Context(), models.PartyRef{ID: c.ID, Name: c.Name}, mux.Vars(r)["rideId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ride)
}

func (s *Server) handleRejectRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.offers.Reject(r.Context(), callerOf(r).ID, mux.Vars(r)["rideId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ride)
}

type statusBody struct {
	Status string   `json:"status"`
	Fare   *float64 `json:"fare,omitempty"`
}

func (s *Server) handleAdvanceStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := decodeBody(r, &body, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	next, err := models.ParseStatus(body.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.engine.AdvanceStatus(r.Context(), callerOf(r).ID, mux.Vars(r)["rideId"], next, body.Fare)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ride)
}

type cancelBody struct {
	Reason string `json:"reason"`
}

// handleCancelRide serves both the party and the admin routes; the caller's
// role selects the cancellation rules.
func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	var body cancelBody
	if err := decodeBody(r, &body, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.engine.CancelRide(r.Context(), callerOf(r), mux.Vars(r)["rideId"], strings.TrimSpace(body.Reason))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ride)
}

func (s *Server) handleMyRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.views.MyRides(r.Context(), callerOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nonNil(rides))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	f, err := historyFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rides, err := s.views.History(r.Context(), callerOf(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nonNil(rides))
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.offers.Offers(r.Context(), callerOf(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, offers)
}

func (s *Server) handleActiveRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.views.Active(r.Context(), callerOf(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ride)
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.views.Earnings(r.Context(), callerOf(r).ID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, e)
}

type availabilityBody struct {
	IsAvailable *bool `json:"isAvailable"`
}

func (s *Server) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	var body availabilityBody
	if err := decodeBody(r, &body, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.IsAvailable == nil {
		s.writeError(w, r, fmt.Errorf("%w: isAvailable is required", models.ErrBadRequest))
		return
	}
	id := callerOf(r).ID
	if _, err := s.gate.Register(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.gate.SetAvailability(r.Context(), id, *body.IsAvailable)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (s *Server) handleGetAvailability(w http.ResponseWriter, r *http.Request) {
	rec, err := s.gate.Register(r.Context(), callerOf(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var c models.Coord
	if err := decodeBody(r, &c, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !geo.ValidCoord(c) {
		s.writeError(w, r, fmt.Errorf("%w: coordinates out of range", models.ErrBadRequest))
		return
	}
	if s.locator == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.locator.Update(r.Context(), callerOf(r).ID, c); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	models.Caller
	Availability *models.DriverAvailability `json:"availability,omitempty"`
}

// handleMe returns the caller identity. Drivers are provisioned on first
// sight so the availability record always exists for the gate.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c := callerOf(r)
	resp := meResponse{Caller: c}
	if c.Role == models.RoleDriver {
		rec, err := s.gate.Register(r.Context(), c.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Availability = &rec
	}
	writeData(w, http.StatusOK, resp)
}

type approvalBody struct {
	ApprovalStatus string `json:"approvalStatus"`
}

func (s *Server) handleSetApproval(w http.ResponseWriter, r *http.Request) {
	var body approvalBody
	if err := decodeBody(r, &body, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := models.ParseApproval(body.ApprovalStatus)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.gate.SetApproval(r.Context(), mux.Vars(r)["driverId"], status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (s *Server) handleEligibleDrivers(w http.ResponseWriter, r *http.Request) {
	ids, err := s.gate.EligibleDrivers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeData(w, http.StatusOK, ids)
}

func (s *Server) handleRideEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["rideId"]
	evs, err := s.eventLog.EventsForRide(r.Context(), id)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("events for ride %s: %w", id, err))
		return
	}
	if evs == nil {
		evs = []models.RideEvent{}
	}
	writeData(w, http.StatusOK, evs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.logger.Warn("health_check_failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func callerOf(r *http.Request) models.Caller {
	c, _ := auth.CallerFrom(r.Context())
	return c
}

// decodeBody decodes a JSON body into v. An empty body is accepted only when
// optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}
	return nil
}

func historyFilter(r *http.Request) (views.HistoryFilter, error) {
	var f views.HistoryFilter
	from, to, err := timeRange(r)
	if err != nil {
		return f, err
	}
	f.From, f.To = from, to
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := models.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	return f, nil
}

// timeRange reads optional RFC 3339 from/to query parameters.
func timeRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	for _, p := range []struct {
		key    string
		target *time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := q.Get(p.key)
		if raw == "" {
			continue
		}
		t, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			return from, to, fmt.Errorf("%w: invalid %s: %v", models.ErrBadRequest, p.key, perr)
		}
		*p.target = t
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return from, to, fmt.Errorf("%w: from must be before to", models.ErrBadRequest)
	}
	return from, to, nil
}

func nonNil(rides []*models.Ride) []*models.Ride {
	if rides == nil {
		return []*models.Ride{}
	}
	return rides
}
