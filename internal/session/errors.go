package session

import "errors"

// Domain errors for the session package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, session.ErrMismatchRejected) {
//	    // close the new connection
//	}
var (
	// ErrSessionNotFound is returned when a connection id is not registered.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrNotConnected is returned when a serial number has no live session.
	ErrNotConnected = errors.New("session: device not connected")

	// ErrMismatchRejected is returned when a second connection claims a serial
	// number already bound and the mismatch policy refuses the replacement.
	ErrMismatchRejected = errors.New("session: serial number mismatch rejected")

	// ErrInvalidSerial is returned when a serial number cannot be parsed.
	ErrInvalidSerial = errors.New("session: invalid serial number")
)
