// Package influxdb provides the bulk event-stream sink for the AP Gateway.
//
// It wraps the official influxdb-client-go v2 library with gateway-specific
// patterns for connection management, batched writes, and health monitoring.
//
// # Purpose
//
// This package handles time-series mirroring of:
//   - Device state frames (full payload plus configuration revision)
//   - Telemetry stream events
//   - Healthcheck sanity scores
//   - Per-band association counts
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "apgw",
//	    Bucket: "devices",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Mirror a state frame
//	client.WriteStateFrame("24f5a207a130", 112, payload)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This keeps network overhead flat at fleet-scale state report rates.
package influxdb
