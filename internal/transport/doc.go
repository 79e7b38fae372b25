// Package transport implements the device-facing WebSocket endpoint.
//
// Every access point holds one long-lived WebSocket connection to the
// gateway and speaks a JSON-RPC-shaped protocol over it: the device sends
// method frames (connect, state, healthcheck, log, ping, telemetry) and
// result frames answering previously issued commands; the gateway sends
// command request envelopes.
//
//	┌──────────┐   ws frames    ┌────────────┐  bind/lookup  ┌──────────┐
//	│  device  │ ─────────────► │ connection │ ────────────► │ session  │
//	│ (AP)     │ ◄───────────── │  (1/ws)    │               │ registry │
//	└──────────┘   rpc requests └─────┬──────┘               └──────────┘
//	                                  │ responses → orchestrator
//	                                  │ state     → inventory, sink, notify
//
// Each connection runs a single read pump; outbound writes are serialized
// by a per-connection mutex so the registry's Send and the protocol pings
// never interleave partial frames. A background sweep evicts sessions whose
// last contact exceeds the staleness threshold and publishes the rolling
// connection aggregates.
package transport
