package influxdb

import "errors"

// Sentinel errors for the event-stream sink, matched with errors.Is.
var (
	// ErrNotConnected is returned for operations on a disconnected client.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed is returned when the initial connect attempt fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed is returned when a synchronous write fails. Batched
	// writes surface their errors through the error callback instead.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled is returned when the sink is disabled in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
