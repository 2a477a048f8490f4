package errors

import (
	"errors"
	"net/http"
)

// Contract and lookup errors.
var (
	ErrArgument = errors.New("invalid argument")
	ErrNotFound = errors.New("not found")
)

// Deployment errors. These are not correctable by the caller.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrKeyNotFound   = errors.New("crypto key not found")
)

// Protocol errors.
var (
	ErrClientUnknown = errors.New("unknown client")
	ErrGrantRejected = errors.New("grant rejected")
	ErrUnauthorized  = errors.New("unauthorized")
)

// HTTPStatus maps an error chain to the status code the HTTP boundary
// should answer with. Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrArgument),
		errors.Is(err, ErrClientUnknown),
		errors.Is(err, ErrGrantRejected):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
