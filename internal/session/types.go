package session

import "time"

// CertificateValidation is the outcome of transport-level certificate
// checking for a session. Validation details are handled by the transport;
// the registry only records the verdict.
type CertificateValidation int

// Certificate validation outcomes, ordered by increasing trust.
const (
	CertNotChecked CertificateValidation = iota
	CertNoCertificate
	CertMismatch
	CertValid
	CertVerified
)

// String returns the wire name of the validation outcome.
func (c CertificateValidation) String() string {
	switch c {
	case CertNoCertificate:
		return "no_certificate"
	case CertMismatch:
		return "mismatch"
	case CertValid:
		return "valid"
	case CertVerified:
		return "verified"
	default:
		return "not_checked"
	}
}

// TelemetryChannel identifies one of the two independent telemetry
// delivery channels a device can report on.
type TelemetryChannel int

const (
	// ChannelNotify delivers telemetry to the push-notification fan-out.
	ChannelNotify TelemetryChannel = iota
	// ChannelStream delivers telemetry to the bulk event-stream sink.
	ChannelStream
)

// TelemetryReporting holds the cadence for one telemetry channel.
// A zero Until means the channel is disabled.
type TelemetryReporting struct {
	Interval time.Duration
	Until    time.Time
	Packets  uint64
}

// Active reports whether the channel is enabled at the given instant.
func (t TelemetryReporting) Active(now time.Time) bool {
	return !t.Until.IsZero() && now.Before(t.Until)
}

// ConnectionState is the live state snapshot for one session.
type ConnectionState struct {
	Connected      bool
	Address        string
	Started        time.Time
	LastContact    time.Time
	ConfigRevision uint64
	Certificate    CertificateValidation
	Associations2G int
	Associations5G int
}

// Healthcheck is the most recent healthcheck snapshot for a session.
type Healthcheck struct {
	Revision uint64
	Sanity   int
	Data     string
	Recorded time.Time
}

// Session represents one live transport connection. It is created when the
// transport accepts a connection and bound to a device identity once the
// device identifies itself.
type Session struct {
	ConnectionID uint64
	SerialNumber uint64

	State           ConnectionState
	LastStats       string
	LastHealthcheck Healthcheck

	// mismatches counts identity-mismatch replacements tolerated for this
	// serial number since it was first bound.
	mismatches int

	telemetry [2]TelemetryReporting
}

// Sender pushes a raw frame to the device behind a session. Implemented by
// the transport connection; the registry holds it as a non-owning reference.
type Sender interface {
	WriteFrame(payload []byte) error
}

// Logger is the minimal logging interface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MismatchPolicy gates how a new connection claiming an already-bound serial
// number is handled. When Allow is true, up to Depth replacements are
// tolerated before new connections are rejected.
type MismatchPolicy struct {
	Allow bool
	Depth int
}

// Tolerates reports whether a replacement is acceptable after the given
// number of prior mismatches.
func (p MismatchPolicy) Tolerates(prior int) bool {
	return p.Allow && prior < p.Depth
}
