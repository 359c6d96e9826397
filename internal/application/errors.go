// Package application contains the use-case services: the rotation scheduler,
// the rotation workflow, and the AccountService facade used by the driving
// adapters.
package application

import "errors"

// Sentinel errors raised by the application layer. Storage, vault, and
// provider failures keep their driven-port sentinels.
var (
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrMissingSecret indicates the secret bundle has no shared secret.
	ErrMissingSecret = errors.New("secret bundle has no shared secret")

	// ErrScheduling indicates a timer bookkeeping failure, such as arming a
	// timer after the scheduler was stopped.
	ErrScheduling = errors.New("scheduling failed")
)
