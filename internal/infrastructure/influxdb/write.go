package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStateFrame mirrors a full device state frame to the event stream.
//
// This is the primary mirroring method: every state report a device delivers
// gets one point carrying the raw payload and the configuration revision the
// device reported. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - serialNumber: Normalized device serial (e.g., "24f5a207a130")
//   - revision: Configuration revision the device reported running
//   - payload: The raw state JSON as received from the device
func (c *Client) WriteStateFrame(serialNumber string, revision uint64, payload []byte) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"serial_number": serialNumber,
		},
		map[string]interface{}{
			"revision": int64(revision),
			"payload":  string(payload),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteTelemetry mirrors one telemetry stream event.
//
// Parameters:
//   - serialNumber: Device identifier
//   - payload: The raw telemetry JSON as received from the device
func (c *Client) WriteTelemetry(serialNumber string, payload []byte) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_telemetry",
		map[string]string{
			"serial_number": serialNumber,
		},
		map[string]interface{}{
			"payload": string(payload),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteHealthcheck records a device healthcheck sanity score.
//
// Sanity is 0-100, 100 meaning fully healthy. Tracking it over time shows
// slow device degradation that single reports hide.
func (c *Client) WriteHealthcheck(serialNumber string, sanity uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_healthcheck",
		map[string]string{
			"serial_number": serialNumber,
		},
		map[string]interface{}{
			"sanity": int64(sanity),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteAssociations records the per-band client association counts derived
// from a state frame.
func (c *Client) WriteAssociations(serialNumber string, assoc2G, assoc5G int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_associations",
		map[string]string{
			"serial_number": serialNumber,
		},
		map[string]interface{}{
			"band_2g": assoc2G,
			"band_5g": assoc5G,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("gateway_stats",
//	    map[string]string{"host": "apgw-01"},
//	    map[string]interface{}{"sessions": 412, "outstanding": 9})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., replayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
