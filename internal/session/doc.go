// Package session provides the device session registry for the AP Gateway.
//
// The registry owns the mapping between transport-level connection ids,
// device serial numbers, and live connection state. It is the single source
// of truth for "is this access point currently connected", and holds the
// most recent state, statistics, and healthcheck snapshots pushed by the
// transport layer.
//
// # Key Types
//
//   - Registry: connection-id and serial-number indexes, guarded by one lock
//   - Session: one live transport connection, bound to zero-or-one device
//   - MismatchPolicy: tolerance for reconnections claiming a bound serial
//   - TelemetryChannel: per-device telemetry cadence (notify or stream)
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Both index maps are
// guarded by a single mutex held only for map operations, never across
// network I/O; sends go through a non-owning Sender reference captured
// under the lock and invoked outside it.
package session
