// Package api implements the operator-facing HTTP REST API for the gateway.
//
// This package provides:
//   - REST endpoints for device inventory, live session status, and
//     statistics/healthcheck history
//   - Durable command submission, history, and cancellation
//   - JWT bearer authentication
//   - Middleware stack (request ID, logging, recovery, body limits)
//   - Prometheus metrics exposition
//
// # Architecture
//
// The API server sits between operator tooling and the durable stores plus
// the live session registry. Submitting a command only persists a pending
// record; the command scheduler picks it up and delivers it over the device
// WebSocket transport. Devices never talk to this API.
//
// # Graceful Degradation
//
// The server operates without the command orchestrator wired in; command
// submission and reads still work, only the live busy/outstanding hints are
// absent from status responses.
package api
