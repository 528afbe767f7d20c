package domain

import "errors"

// Error taxonomy shared by every layer. Wrap with fmt.Errorf("%w: ...") and
// test with errors.Is; the HTTP layer maps each sentinel to one status code.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrValidation      = errors.New("validation failed")
	ErrUnavailable     = errors.New("unavailable")
)
