package app

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated means no caller identity was supplied.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrForbidden means the caller may not act on the requested scope.
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
	// ErrValidation rejects malformed input before any write happens.
	ErrValidation = errors.New("validation failed")
	// ErrStorageUnavailable wraps collaborator I/O failures. Retryable.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrCompletionFailed means the model call failed or returned nothing
	// usable. The user's turn is already persisted when this is returned.
	ErrCompletionFailed = errors.New("completion failed")
	// ErrRateLimited is returned by the HTTP layer when a caller exceeds
	// the per-minute turn budget.
	ErrRateLimited = errors.New("rate limited")
)

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
