package relay

import "errors"

var (
	// ErrUnregistered is returned for events that need an identity on a connection that has none.
	ErrUnregistered = errors.New("connection has not registered an identity")
	// ErrIdentityMismatch is returned when an event claims an identity other than the connection's own.
	ErrIdentityMismatch = errors.New("event identity does not match connection identity")
	// ErrUnknownEvent is returned for event types the relay does not handle.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrPeerClosed is returned for events arriving after disconnect.
	ErrPeerClosed = errors.New("connection already closed")
)
