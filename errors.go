package lens

import "errors"

var (
	// ErrAlreadyStarted is returned by Start when called more than once.
	ErrAlreadyStarted = errors.New("reconciler already started")

	// ErrInvalidSubscription is returned when a subscription request fails
	// validation.
	ErrInvalidSubscription = errors.New("invalid subscription")

	// ErrUnknownCommand is returned when a wire message carries a command
	// that maps to no message kind.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrSessionClosed is returned when opening a subscription on a session
	// that has been closed.
	ErrSessionClosed = errors.New("session closed")
)
