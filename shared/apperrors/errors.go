package apperrors

import "errors"

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrNotFound indicates that a requested resource could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrHandlerResolution indicates that a request type resolved to zero or to
// more than one handler. It is a wiring bug and is never retried.
var ErrHandlerResolution = errors.New("handler resolution failed")

// ErrServiceUnavailable indicates that storage could not be reached or its
// circuit breaker is open.
var ErrServiceUnavailable = errors.New("service unavailable")

// ErrPublishUnavailable indicates that an integration event could not be handed
// to the broker after retries, or the broker circuit breaker is open.
var ErrPublishUnavailable = errors.New("publish unavailable")

// ErrSerialization indicates a payload that cannot be encoded or decoded.
// Retrying cannot fix malformed data.
var ErrSerialization = errors.New("serialization error")

// ErrVersionConflict indicates that another append claimed the same aggregate
// version first. The caller may retry.
var ErrVersionConflict = errors.New("aggregate version conflict")

// ErrDuplicateEvent indicates that an event with the same idempotency key was
// already appended to the aggregate.
var ErrDuplicateEvent = errors.New("duplicate event")

// ErrInvalidTransition indicates a status change out of a terminal status.
var ErrInvalidTransition = errors.New("invalid status transition")

// IsPermanent reports whether err is a fault that retrying cannot resolve.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrHandlerResolution) ||
		errors.Is(err, ErrSerialization) ||
		errors.Is(err, ErrInvalidTransition)
}
