package model

import "github.com/cockroachdb/errors"

// Error taxonomy shared by the read and write paths. Callers classify with
// errors.Is; wrapped and marked errors keep their class.
var (
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrBadRequest          = errors.New("bad request")
	ErrExternalUnavailable = errors.New("external gateway unavailable")
	ErrExternalRejected    = errors.New("external gateway rejected the request")
	ErrEnvironmentMismatch = errors.New("external id does not resolve in this gateway environment")
)

func Forbidden(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrForbidden)
}

func NotFound(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

func BadRequest(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrBadRequest)
}
