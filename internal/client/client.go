// Package client is the typed HTTP client used by the rider and driver apps.
// Reads are retried on transport failures; mutations never are, since the
// server may have applied them before the connection dropped.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/views"
)

// APIError is a failure envelope returned by the server. It unwraps to the
// sentinel named by Code so callers can use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return models.FromCode(e.Code) }

type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	logger     *slog.Logger
	attempts   int
	retryDelay time.Duration
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithRetry sets how many times a read is attempted and the initial backoff.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.retryDelay = delay
	}
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		http:       &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		attempts:   3,
		retryDelay: 200 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

func (c *Client) RequestRide(ctx context.Context, pickup, dropoff models.Location) (*models.Ride, error) {
	var r models.Ride
	body := map[string]models.Location{"pickupLocation": pickup, "dropoffLocation": dropoff}
	if err := c.mutate(ctx, http.MethodPost, "/ride/request", body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) AcceptRide(ctx context.Context, rideID string) (*models.Ride, error) {
	return c.rideMutation(ctx, "/ride/accept/"+url.PathEscape(rideID), nil)
}

func (c *Client) RejectRide(ctx context.Context, rideID string) (*models.Ride, error) {
	return c.rideMutation(ctx, "/ride/reject/"+url.PathEscape(rideID), nil)
}

func (c *Client) CancelRide(ctx context.Context, rideID, reason string) (*models.Ride, error) {
	return c.rideMutation(ctx, "/ride/cancel/"+url.PathEscape(rideID), map[string]string{"reason": reason})
}

func (c *Client) AdvanceStatus(ctx context.Context, rideID string, next models.RideStatus, fare *float64) (*models.Ride, error) {
	body := struct {
		Status models.RideStatus `json:"status"`
		Fare   *float64          `json:"fare,omitempty"`
	}{next, fare}
	return c.rideMutation(ctx, "/ride/"+url.PathEscape(rideID)+"/status", body)
}

func (c *Client) rideMutation(ctx context.Context, path string, body any) (*models.Ride, error) {
	var r models.Ride
	if err := c.mutate(ctx, http.MethodPatch, path, body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) MyRides(ctx context.Context) ([]*models.Ride, error) {
	var rides []*models.Ride
	if err := c.read(ctx, "/ride/my-rides", &rides); err != nil {
		return rides, err
	}
	return rides, nil
}

func (c *Client) History(ctx context.Context, statuses []models.RideStatus, from, to time.Time) ([]*models.Ride, error) {
	q := rangeQuery(from, to)
	if len(statuses) > 0 {
		parts := make([]string, len(statuses))
		for i, s := range statuses {
			parts[i] = string(s)
		}
		q.Set("status", strings.Join(parts, ","))
	}
	var rides []*models.Ride
	if err := c.read(ctx, withQuery("/ride/history", q), &rides); err != nil {
		return rides, err
	}
	return rides, nil
}

func (c *Client) Offers(ctx context.Context) ([]models.RideOffer, error) {
	var offers []models.RideOffer
	if err := c.read(ctx, "/ride/offers", &offers); err != nil {
		return offers, err
	}
	return offers, nil
}

// ActiveRide returns nil when the driver has no ACCEPTED or ONGOING ride.
func (c *Client) ActiveRide(ctx context.Context) (*models.Ride, error) {
	var r *models.Ride
	if err := c.read(ctx, "/ride/active", &r); err != nil {
		return r, err
	}
	return r, nil
}

func (c *Client) Earnings(ctx context.Context, from, to time.Time) (views.Earnings, error) {
	var e views.Earnings
	if err := c.read(ctx, withQuery("/ride/earnings", rangeQuery(from, to)), &e); err != nil {
		return e, err
	}
	return e, nil
}

func (c *Client) SetAvailability(ctx context.Context, available bool) (models.DriverAvailability, error) {
	var a models.DriverAvailability
	if err := c.mutate(ctx, http.MethodPatch, "/driver/availability", map[string]bool{"isAvailable": available}, &a); err != nil {
		return a, err
	}
	return a, nil
}

func (c *Client) Availability(ctx context.Context) (models.DriverAvailability, error) {
	var a models.DriverAvailability
	if err := c.read(ctx, "/driver/availability", &a); err != nil {
		return a, err
	}
	return a, nil
}

func (c *Client) UpdateLocation(ctx context.Context, pos models.Coord) error {
	return c.mutate(ctx, http.MethodPut, "/driver/location", pos, nil)
}

func (c *Client) Me(ctx context.Context) (models.Caller, error) {
	var me models.Caller
	if err := c.read(ctx, "/user/me", &me); err != nil {
		return me, err
	}
	return me, nil
}

// read issues a GET, retrying with doubling backoff while the failure is a
// transport error.
func (c *Client) read(ctx context.Context, path string, out any) error {
	delay := c.retryDelay
	var err error
	for i := 0; i < c.attempts; i++ {
		err = c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil || !models.Retryable(err) || i == c.attempts-1 {
			return err
		}
		c.logger.Warn("client_read_retry", "path", path, "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (c *Client) mutate(ctx context.Context, method, path string, body, out any) error {
	return c.do(ctx, method, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", models.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %v", models.ErrTransport, method, path, err)
	}
	return decodeResponse(resp.StatusCode, raw, out)
}

func decodeResponse(status int, raw []byte, out any) error {
	if status == http.StatusNoContent {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if status >= 500 {
			return fmt.Errorf("%w: status %d", models.ErrTransport, status)
		}
		return fmt.Errorf("decode response (status %d): %w", status, err)
	}
	if !env.Success {
		if env.Code == "" && status >= 500 {
			return fmt.Errorf("%w: status %d: %s", models.ErrTransport, status, env.Message)
		}
		return &APIError{Status: status, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func rangeQuery(from, to time.Time) url.Values {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(time.RFC3339))
	}
	return q
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// IsConflict reports whether err means the ride moved on underneath the
// caller and the local view should be refreshed.
func IsConflict(err error) bool {
	return models.Conflict(err) || errors.Is(err, models.ErrNotEligible)
}
