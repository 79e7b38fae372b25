package transport

import "errors"

var (
	// ErrServerClosed is returned by Start when the listener shuts down.
	ErrServerClosed = errors.New("transport: server closed")

	// ErrInvalidConfig indicates required dependencies or listen settings
	// are missing.
	ErrInvalidConfig = errors.New("transport: invalid configuration")

	// ErrNotConnected indicates the frame arrived before a successful
	// connect handshake on this connection.
	ErrNotConnected = errors.New("transport: device not connected")

	// ErrMalformedFrame indicates a frame that could not be decoded into
	// the expected envelope.
	ErrMalformedFrame = errors.New("transport: malformed frame")

	// ErrUnknownMethod indicates a method name outside the device protocol.
	ErrUnknownMethod = errors.New("transport: unknown method")

	// ErrMissingSerial indicates a method frame without a usable serial
	// number parameter.
	ErrMissingSerial = errors.New("transport: missing serial number")
)
