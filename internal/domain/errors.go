package domain

import "errors"

// Error taxonomy shared by every service. Services wrap these with their own
// sentinels so callers can match either the specific or the general case
// with errors.Is.
var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks a uniqueness violation or a lost race. Surfaced to the caller.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks infrastructure failures (broker, DNS, database timeouts)
	// that are retried with backoff at the job level.
	ErrTransient = errors.New("transient infrastructure error")

	// ErrCompliance marks content that may not be sent (missing unsubscribe footer).
	ErrCompliance = errors.New("compliance violation")

	// ErrUnauthorized marks an ownership mismatch.
	ErrUnauthorized = errors.New("not authorized")

	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
)
