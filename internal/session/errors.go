package session

import "errors"

var (
	// ErrDuplicateSession is returned by Create when the id already exists.
	ErrDuplicateSession = errors.New("session already exists")

	// ErrNotFound is returned when no session record exists for an id.
	ErrNotFound = errors.New("session not found")

	// ErrCorruptState is returned by Load when a stored record cannot be
	// parsed. The record is left in place for inspection.
	ErrCorruptState = errors.New("session state corrupt")

	// ErrInvalidTransition is returned when an operation is not allowed
	// from the session's current status.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrNotReady is returned when results are requested before the
	// session has completed.
	ErrNotReady = errors.New("session not completed")
)
