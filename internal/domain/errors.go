package domain

import "errors"

var (
	// ErrInvalidCommand marks a command entry that failed validation. Parse
	// errors wrap it with field detail; validation is total, so a message
	// either satisfies every constraint or is rejected as a unit.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrTargetUnavailable is returned by forward when the addressed vehicle
	// is unknown or has no live connection.
	ErrTargetUnavailable = errors.New("target vehicle unavailable")
)
