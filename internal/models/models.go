package models

import (
	"bytes"
	"encoding/json"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a free-text address with optional coordinates.
type Location struct {
	Address string `json:"address"`
	Coord   *Coord `json:"coord,omitempty"`
}

// UnmarshalJSON accepts either a bare address string or the object form.
func (l *Location) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var addr string
		if err := json.Unmarshal(b, &addr); err != nil {
			return err
		}
		*l = Location{Address: addr}
		return nil
	}
	type plain Location
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*l = Location(p)
	return nil
}

// PartyRef identifies a rider or driver on a ride.
type PartyRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Ride struct {
	ID     string    `json:"id"`
	Rider  PartyRef  `json:"rider"`
	Driver *PartyRef `json:"driver,omitempty"` // nil until accepted

	Pickup  Location   `json:"pickupLocation"`
	Dropoff Location   `json:"dropoffLocation"`
	Status  RideStatus `json:"status"`

	RequestedAt time.Time  `json:"requestedAt"`
	PickUpAt    *time.Time `json:"pickUpAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`

	CancellationReason string    `json:"cancellationReason,omitempty"`
	Fare               *float64  `json:"fare,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// DriverID returns the assigned driver id or "" when unassigned.
func (r *Ride) DriverID() string {
	if r.Driver == nil {
		return ""
	}
	return r.Driver.ID
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	if r.Driver != nil {
		d := *r.Driver
		c.Driver = &d
	}
	c.Pickup.Coord = cloneCoord(r.Pickup.Coord)
	c.Dropoff.Coord = cloneCoord(r.Dropoff.Coord)
	c.PickUpAt = cloneTime(r.PickUpAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	if r.Fare != nil {
		f := *r.Fare
		c.Fare = &f
	}
	return &c
}

type DriverAvailability struct {
	DriverID       string         `json:"driverId"`
	IsAvailable    bool           `json:"isAvailable"`
	ApprovalStatus ApprovalStatus `json:"approvalStatus"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Eligible is true iff the driver is approved and online.
func (a DriverAvailability) Eligible() bool {
	return a.ApprovalStatus == ApprovalApproved && a.IsAvailable
}

// RideOffer is a REQUESTED ride as seen by an eligible driver.
type RideOffer struct {
	RideID         string    `json:"rideId"`
	Rider          PartyRef  `json:"rider"`
	Pickup         Location  `json:"pickupLocation"`
	Dropoff        Location  `json:"dropoffLocation"`
	RequestedAt    time.Time `json:"requestedAt"`
	DistanceMeters *float64  `json:"distanceMeters,omitempty"`
}

// OfferFromRide projects a ride into an offer.
func OfferFromRide(r *Ride) RideOffer {
	return RideOffer{
		RideID:      r.ID,
		Rider:       r.Rider,
		Pickup:      r.Pickup,
		Dropoff:     r.Dropoff,
		RequestedAt: r.RequestedAt,
	}
}

// Caller is the authenticated identity behind a request.
type Caller struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

func cloneCoord(c *Coord) *Coord {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
