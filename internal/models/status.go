package models

import (
	"errors"
	"strings"
)

// RideStatus is the closed set of ride states.
type RideStatus string

const (
	StatusPending   RideStatus = "PENDING"
	StatusRequested RideStatus = "REQUESTED"
	StatusAccepted  RideStatus = "ACCEPTED"
	StatusRejected  RideStatus = "REJECTED"
	StatusOngoing   RideStatus = "ONGOING"
	StatusCompleted RideStatus = "COMPLETED"
	StatusCancelled RideStatus = "CANCELLED"
)

var ErrInvalidStatus = errors.New("invalid ride status")

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []RideStatus{
	StatusPending, StatusRequested, StatusAccepted, StatusOngoing,
	StatusCompleted, StatusRejected, StatusCancelled,
}

// ParseStatus normalizes (uppercases+trims) and validates a status string.
func ParseStatus(in string) (RideStatus, error) {
	s := RideStatus(strings.ToUpper(strings.TrimSpace(in)))
	if s.Valid() {
		return s, nil
	}
	return "", ErrInvalidStatus
}

func (s RideStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRequested, StatusAccepted, StatusRejected,
		StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s RideStatus) String() string { return string(s) }

// Terminal reports whether no further transitions are permitted.
func (s RideStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// Open reports whether the ride is still waiting for a driver.
// PENDING gates exactly like REQUESTED.
func (s RideStatus) Open() bool {
	return s == StatusRequested || s == StatusPending
}

// Active reports whether a driver is currently committed to the ride.
func (s RideStatus) Active() bool {
	return s == StatusAccepted || s == StatusOngoing
}

// Role is the kind of actor invoking a transition.
type Role string

const (
	RoleRider  Role = "RIDER"
	RoleDriver Role = "DRIVER"
	RoleAdmin  Role = "ADMIN"
	RoleSystem Role = "SYSTEM"
)

var ErrInvalidRole = errors.New("invalid role")

func ParseRole(in string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(in)))
	switch r {
	case RoleRider, RoleDriver, RoleAdmin, RoleSystem:
		return r, nil
	case "USER", "PASSENGER":
		return RoleRider, nil
	default:
		return "", ErrInvalidRole
	}
}

// Override reports whether the role may force a cancellation.
func (r Role) Override() bool { return r == RoleAdmin || r == RoleSystem }

// ApprovalStatus is set by administrators only.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalSuspended ApprovalStatus = "SUSPENDED"
)

var ErrInvalidApproval = errors.New("invalid approval status")

// ParseApproval accepts ACTIVE as a synonym of APPROVED.
func ParseApproval(in string) (ApprovalStatus, error) {
	a := ApprovalStatus(strings.ToUpper(strings.TrimSpace(in)))
	switch a {
	case ApprovalPending, ApprovalApproved, ApprovalSuspended:
		return a, nil
	case "ACTIVE":
		return ApprovalApproved, nil
	default:
		return "", ErrInvalidApproval
	}
}

type transitionKey struct {
	from RideStatus
	to   RideStatus
}

// transitions lists every legal edge with the roles allowed to take it.
// Override cancellations are handled separately in CanTransition.
var transitions = map[transitionKey][]Role{
	{StatusRequested, StatusAccepted}:  {RoleDriver},
	{StatusRequested, StatusRejected}:  {RoleDriver},
	{StatusRequested, StatusCancelled}: {RoleRider},
	{StatusPending, StatusAccepted}:    {RoleDriver},
	{StatusPending, StatusRejected}:    {RoleDriver},
	{StatusPending, StatusCancelled}:   {RoleRider},
	{StatusAccepted, StatusOngoing}:    {RoleDriver},
	{StatusAccepted, StatusCancelled}:  {RoleDriver},
	{StatusOngoing, StatusCompleted}:   {RoleDriver},
	{StatusOngoing, StatusCancelled}:   {RoleDriver},
}

// CanTransition reports whether role may move a ride from current to next.
// Driver eligibility and assignment are checked by the lifecycle engine.
func CanTransition(current, next RideStatus, role Role) bool {
	if !current.Valid() || !next.Valid() || current.Terminal() {
		return false
	}
	if next == StatusCancelled && role.Override() {
		return true
	}
	for _, r := range transitions[transitionKey{current, next}] {
		if r == role {
			return true
		}
	}
	return false
}
