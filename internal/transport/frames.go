package transport

import "encoding/json"

// Device protocol method names.
const (
	methodConnect     = "connect"
	methodState       = "state"
	methodHealthcheck = "healthcheck"
	methodLog         = "log"
	methodPing        = "ping"
	methodTelemetry   = "telemetry"
)

// envelope is the JSON-RPC-shaped frame exchanged with devices. Method
// frames carry Method and Params; command responses carry ID and Result.
type envelope struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// connectParams is the identity handshake every device sends first.
type connectParams struct {
	Serial       string          `json:"serial"`
	UUID         uint64          `json:"uuid"`
	Firmware     string          `json:"firmware"`
	Capabilities json.RawMessage `json:"capabilities"`
}

// stateParams is the periodic state report. RequestUUID links the report
// back to a durable command when the device produced it on demand.
type stateParams struct {
	Serial      string          `json:"serial"`
	UUID        uint64          `json:"uuid"`
	State       json.RawMessage `json:"state"`
	RequestUUID string          `json:"request_uuid,omitempty"`
}

type healthcheckParams struct {
	Serial string          `json:"serial"`
	UUID   uint64          `json:"uuid"`
	Sanity uint64          `json:"sanity"`
	Data   json.RawMessage `json:"data"`
}

type logParams struct {
	Serial   string          `json:"serial"`
	Log      string          `json:"log"`
	Severity int             `json:"severity"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type pingParams struct {
	Serial   string `json:"serial"`
	Firmware string `json:"firmware,omitempty"`
}

type telemetryParams struct {
	Serial string          `json:"serial"`
	UUID   uint64          `json:"uuid,omitempty"`
	Data   json.RawMessage `json:"data"`
}
