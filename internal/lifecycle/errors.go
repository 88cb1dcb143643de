package lifecycle

import "errors"

// Engine error taxonomy. Handlers translate these into HTTP status codes
// and {valid|success, message} JSON; nothing propagates as an unhandled
// fault.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
)

// ForbiddenError carries the reason a validation was denied:
// "suspended", "expired", or "unauthorized_account".
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Reason }

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

func forbidden(reason string) error {
	return &ForbiddenError{Reason: reason}
}
