package command

import (
	"encoding/json"
	"time"
)

// Status is the durable execution state of a command.
type Status string

// Command execution states. The transition path is:
// pending → executed → completed | timedout, with expired reachable from
// pending only (never attempted because too old).
const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timedout"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Command is the durable record of a command issued to a device. The UUID
// is its persistent identity, independent of the per-process RPC id used
// for response correlation.
type Command struct {
	UUID            string          `json:"uuid"`
	SerialNumber    string          `json:"serialNumber"`
	Command         string          `json:"command"`
	Details         json.RawMessage `json:"details"`
	Status          Status          `json:"status"`
	SubmittedBy     string          `json:"submittedBy,omitempty"`
	Submitted       time.Time       `json:"submitted"`
	Executed        *time.Time      `json:"executed,omitempty"`
	Completed       *time.Time      `json:"completed,omitempty"`
	Results         json.RawMessage `json:"results,omitempty"`
	ErrorText       string          `json:"errorText,omitempty"`
	ExecutionTimeMS float64         `json:"executionTime,omitempty"`
}

// ConfigureCommand pushes a new configuration to a device. Its payload
// carries the target revision under "uuid"; the revision stays pending on
// the inventory record until a state report shows it was adopted.
const ConfigureCommand = "configure"

// JSON-RPC envelope constants for the device protocol.
const (
	// JSONRPCVersion is the protocol version tag carried on every request.
	JSONRPCVersion = "2.0"

	// NoCorrelationID is the reserved RPC id meaning "fire-and-forget, no
	// correlation expected". Real correlation ids start above it.
	NoCorrelationID uint64 = 1
)

// Request is the JSON-RPC-shaped envelope sent to a device.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a correlated reply from a device.
type Response struct {
	SerialNumber uint64
	ID           uint64
	Payload      json.RawMessage
}
