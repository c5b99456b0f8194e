package domain

import "errors"

var (
	// ErrNotFound covers both a missing entity and a lost CAS race on a
	// status transition (the row was no longer in the expected state).
	ErrNotFound           = errors.New("not found")
	ErrArgument           = errors.New("invalid argument")
	ErrArgumentNull       = errors.New("missing required argument")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyInUse       = errors.New("already in use")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrNotImplemented     = errors.New("not implemented")
)
