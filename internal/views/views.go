// Package views holds read-only projections over a rider's or driver's rides.
package views

import (
	"fmt"
	"sort"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// HistoryFilter bounds requestedAt to [From, To). Zero times are unbounded.
type HistoryFilter struct {
	Statuses []models.RideStatus
	From     time.Time
	To       time.Time
}

func (f HistoryFilter) match(r *models.Ride) bool {
	if !inRange(r.RequestedAt, f.From, f.To) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// History returns the matching rides, most recent first.
func History(rides []*models.Ride, f HistoryFilter) []*models.Ride {
	out := make([]*models.Ride, 0, len(rides))
	for _, r := range rides {
		if f.match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out
}

// ActiveRide returns the driver's ACCEPTED or ONGOING ride, or nil. More
// than one is an engine invariant violation and is reported, not resolved.
func ActiveRide(rides []*models.Ride, driverID string) (*models.Ride, error) {
	var found []*models.Ride
	for _, r := range rides {
		if r.DriverID() == driverID && r.Status.Active() {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		ids := make([]string, len(found))
		for i, r := range found {
			ids[i] = r.ID
		}
		return nil, fmt.Errorf("%w: driver %s has %d active rides %v", models.ErrIntegrity, driverID, len(found), ids)
	}
}

type Earnings struct {
	DriverID string     `json:"driverId"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Total    float64    `json:"total"`
	Rides    int        `json:"rides"`
}

// EarningsFor sums fares of COMPLETED rides whose completedAt falls in
// [from, to). ACCEPTED or ONGOING rides never count.
func EarningsFor(rides []*models.Ride, driverID string, from, to time.Time) Earnings {
	e := Earnings{DriverID: driverID}
	if !from.IsZero() {
		e.From = &from
	}
	if !to.IsZero() {
		e.To = &to
	}
	for _, r := range rides {
		if r.DriverID() != driverID || r.Status != models.StatusCompleted || r.CompletedAt == nil {
			continue
		}
		if !inRange(*r.CompletedAt, from, to) {
			continue
		}
		e.Rides++
		if r.Fare != nil {
			e.Total += *r.Fare
		}
	}
	return e
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
