// Package notify publishes gateway lifecycle events to the MQTT fan-out.
//
// Every notification is a small typed JSON envelope on a per-type topic
// under apgw/notify/. Delivery is fire-and-forget: a broker outage never
// blocks or fails the calling path, publish errors are logged and dropped.
//
// Event types:
//
//	device_connection              a device completed its connect handshake
//	device_disconnection           a device session ended
//	device_statistics              a device delivered a state report
//	device_configuration_upgrade   a device adopted a pushed configuration
//	device_firmware_upgrade        a device reconnected with new firmware
//	device_connections_statistics  periodic aggregate connection counts
package notify
