package link

import "errors"

var (
	// ErrConnectionFailure is returned by Connect when the port could not be
	// opened within the configured number of attempts.
	ErrConnectionFailure = errors.New("link: connection failure")
	// ErrNotConnected is returned when a command is issued on a closed link.
	ErrNotConnected = errors.New("link: not connected")
	// ErrWriteFailure wraps transport errors while sending a command. The
	// link does not retry; callers decide how to recover.
	ErrWriteFailure = errors.New("link: command write failure")
)
