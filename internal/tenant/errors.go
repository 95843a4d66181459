package tenant

import "errors"

var (
	ErrNotFound        = errors.New("tenant: not found")
	ErrConflict        = errors.New("tenant: already exists")
	ErrInvalidInput    = errors.New("tenant: invalid input")
	ErrNotAvailable    = errors.New("tenant: organization not available to actor")
	ErrUnavailable     = errors.New("tenant: context unavailable")
	ErrClosed          = errors.New("tenant: context closed")
	ErrUnauthenticated = errors.New("tenant: not authenticated")
)
