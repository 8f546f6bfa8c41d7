package session

import "errors"

var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("session not connected")
	// ErrClosed is returned once the session has been closed for good.
	ErrClosed = errors.New("session closed")
	// ErrAlreadyConnected is returned by Connect while a connection is live or being set up.
	ErrAlreadyConnected = errors.New("session already connected")
	// ErrUnresolved is returned when no target group is bound to the current connection.
	ErrUnresolved = errors.New("target group unresolved")
	// ErrStaleTarget is returned for a target bound to an earlier connection.
	ErrStaleTarget = errors.New("stale target")
	// ErrAlreadyBound is returned when binding a second target on one connection.
	ErrAlreadyBound = errors.New("target already bound for this connection")
	// ErrQueueFull is returned when the outbound queue has no room.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrGroupNotFound is returned by Resolve when no group has the wanted name.
	ErrGroupNotFound = errors.New("group not found")
)
