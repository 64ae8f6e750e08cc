package flags

import "errors"

var (
	// ErrFlagNotFound is returned when an operation names a flag that was never registered.
	ErrFlagNotFound = errors.New("flag not found")

	// ErrInvalidFlag is returned when a flag or update breaks a configuration invariant.
	ErrInvalidFlag = errors.New("invalid flag")

	// ErrFlagExists is returned when registering a name that is already taken.
	ErrFlagExists = errors.New("flag already exists")
)
