package models

import "errors"

var (
	ErrInvalidRoute           = errors.New("pickup and dropoff locations are required")
	ErrInvalidTransition      = errors.New("invalid ride status transition")
	ErrNotEligible            = errors.New("driver is not eligible for ride requests")
	ErrAlreadyResolved        = errors.New("ride is already resolved")
	ErrForbidden              = errors.New("forbidden")
	ErrCancellationNotAllowed = errors.New("cancellation not allowed")
	ErrNotApproved            = errors.New("driver is not approved")
	ErrTransport              = errors.New("transport error")

	ErrNotFound       = errors.New("ride not found")
	ErrDriverNotFound = errors.New("driver not found")
	ErrInvalidFare    = errors.New("fare must be a non-negative amount")
	ErrIntegrity      = errors.New("ride data integrity violation")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidRoute, "INVALID_ROUTE"},
	{ErrInvalidTransition, "INVALID_TRANSITION"},
	{ErrNotEligible, "NOT_ELIGIBLE"},
	{ErrAlreadyResolved, "ALREADY_RESOLVED"},
	{ErrForbidden, "FORBIDDEN"},
	{ErrCancellationNotAllowed, "CANCELLATION_NOT_ALLOWED"},
	{ErrNotApproved, "NOT_APPROVED"},
	{ErrTransport, "TRANSPORT_ERROR"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrDriverNotFound, "DRIVER_NOT_FOUND"},
	{ErrInvalidFare, "INVALID_FARE"},
	{ErrIntegrity, "INTEGRITY_ERROR"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrBadRequest, "BAD_REQUEST"},
	{ErrInvalidStatus, "INVALID_STATUS"},
	{ErrInvalidApproval, "INVALID_APPROVAL"},
}

// Code returns the stable wire code for err, or "INTERNAL" when unknown.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}

// FromCode maps a wire code back to its sentinel error, nil when unknown.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// Retryable is true only for transport failures. Callers must still only
// retry reads: a mutation may have been applied before the failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// Conflict reports whether err is an expected concurrent-state outcome that
// calls for a refresh rather than a retry.
func Conflict(err error) bool {
	return errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrInvalidTransition)
}
