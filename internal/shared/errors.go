// Package shared defines sentinel errors and small crypto/string helpers
// used across PIK components. Callers should use errors.Is to match the
// sentinel values.
package shared

import "errors"

var (

	// common errors
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInternal = errors.New("internal error")

	// request validation errors
	ErrBadRequest = errors.New("bad request")

	// auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// throttling
	ErrTooManyRequests = errors.New("too many requests")
)
