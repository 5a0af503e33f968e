package models

import "time"

type RideEventType string

const (
	EventRideRequested RideEventType = "RIDE_REQUESTED"
	EventRideAccepted  RideEventType = "RIDE_ACCEPTED"
	EventRideRejected  RideEventType = "RIDE_REJECTED"
	EventRideStarted   RideEventType = "RIDE_STARTED"
	EventRideCompleted RideEventType = "RIDE_COMPLETED"
	EventRideCancelled RideEventType = "RIDE_CANCELLED"
)

// EventTypeFor returns the event emitted when a ride enters status.
func EventTypeFor(status RideStatus) RideEventType {
	switch status {
	case StatusAccepted:
		return EventRideAccepted
	case StatusRejected:
		return EventRideRejected
	case StatusOngoing:
		return EventRideStarted
	case StatusCompleted:
		return EventRideCompleted
	case StatusCancelled:
		return EventRideCancelled
	default:
		return EventRideRequested
	}
}

// RideEvent records a single successful lifecycle transition.
type RideEvent struct {
	ID         string        `json:"id" db:"id"`
	Type       RideEventType `json:"type" db:"event_type"`
	RideID     string        `json:"rideId" db:"ride_id"`
	RiderID    string        `json:"riderId" db:"rider_id"`
	DriverID   string        `json:"driverId,omitempty" db:"driver_id"`
	From       RideStatus    `json:"from,omitempty" db:"from_status"`
	To         RideStatus    `json:"to" db:"to_status"`
	ActorID    string        `json:"actorId" db:"actor_id"`
	ActorRole  Role          `json:"actorRole" db:"actor_role"`
	OccurredAt time.Time     `json:"occurredAt" db:"occurred_at"`
}
