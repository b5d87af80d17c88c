// Package apperr holds the error taxonomy shared by the lifecycle and attendance packages.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyMarked      = errors.New("checkpoint already marked")
	ErrUnknownCheckpoint  = errors.New("unknown checkpoint")
	ErrNoActiveCheckpoint = errors.New("no active checkpoint")
	ErrInvalidEligibility = errors.New("invalid eligibility criteria")
	ErrPersistence        = errors.New("persistence failure")
)

// Persistence wraps a collaborator I/O error so callers can match ErrPersistence
// while keeping the underlying cause.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &persistenceError{op: op, err: err}
}

type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string { return e.op + ": " + e.err.Error() }

func (e *persistenceError) Unwrap() []error { return []error{ErrPersistence, e.err} }

// ClientFacing reports whether err belongs to the recoverable set that is
// surfaced verbatim to API callers.
func ClientFacing(err error) bool {
	for _, target := range []error{ErrNotFound, ErrAlreadyMarked, ErrUnknownCheckpoint, ErrNoActiveCheckpoint, ErrInvalidEligibility} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// HTTPStatus maps an error to the status code returned at the API boundary.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyMarked), errors.Is(err, ErrNoActiveCheckpoint):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownCheckpoint):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidEligibility):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
