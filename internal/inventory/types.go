package inventory

import (
	"encoding/json"
	"time"
)

// Device is the durable inventory record for one access point.
type Device struct {
	SerialNumber string `json:"serialNumber"`

	// Capabilities is the raw capabilities object the device advertised on
	// its most recent connect.
	Capabilities json.RawMessage `json:"capabilities"`

	// Firmware is the firmware identification string from the last connect.
	Firmware string `json:"firmware"`

	// Compatible is the hardware model family the device declares itself
	// compatible with.
	Compatible string `json:"compatible"`

	// ConfigRevision is the configuration revision the device last reported
	// running. Revisions increase monotonically per device.
	ConfigRevision uint64 `json:"configRevision"`

	// PendingRevision is a pushed-but-not-yet-adopted configuration
	// revision, zero when no upgrade is outstanding.
	PendingRevision uint64 `json:"pendingRevision,omitempty"`

	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Statistics is one state snapshot reported by a device.
type Statistics struct {
	SerialNumber string          `json:"serialNumber"`
	Revision     uint64          `json:"uuid"`
	Data         json.RawMessage `json:"data"`
	Recorded     time.Time       `json:"recorded"`
}

// Healthcheck is one healthcheck report from a device. Sanity is a 0-100
// score, 100 meaning fully healthy.
type Healthcheck struct {
	SerialNumber string          `json:"serialNumber"`
	Revision     uint64          `json:"uuid"`
	Sanity       uint64          `json:"sanity"`
	Data         json.RawMessage `json:"data"`
	Recorded     time.Time       `json:"recorded"`
}

// ConnectInfo is what a device presents when it connects: the fields the
// inventory refreshes on every connect frame.
type ConnectInfo struct {
	SerialNumber string
	Capabilities json.RawMessage
	Firmware     string
	Compatible   string
}
