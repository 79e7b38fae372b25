package mqtt

import "fmt"

// Topic prefixes for the AP Gateway MQTT hierarchy.
//
// Notification topics use the flat scheme: apgw/notify/{event_type}
// with the device identity carried in the payload envelope.
const (
	// TopicPrefix is the base for all gateway topics.
	TopicPrefix = "apgw"

	// TopicPrefixNotify is the base for push-notification fan-out topics.
	TopicPrefixNotify = "apgw/notify"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "apgw/system"
)

// Topics provides builders for AP Gateway MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	statsTopic := topics.Notify("device_statistics")
//	// Returns: "apgw/notify/device_statistics"
type Topics struct{}

// Notify returns the fan-out topic for one notification event type.
//
// Example: apgw/notify/device_connection
func (Topics) Notify(eventType string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixNotify, eventType)
}

// SystemStatus returns the gateway status topic.
//
// Example: apgw/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: apgw/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// AllNotifications returns a pattern matching every notification topic.
//
// Pattern: apgw/notify/+
func (Topics) AllNotifications() string {
	return fmt.Sprintf("%s/+", TopicPrefixNotify)
}

// AllTopics returns a pattern matching all gateway topics.
// Use with caution, this receives ALL traffic.
//
// Pattern: apgw/#
func (Topics) AllTopics() string {
	return "apgw/#"
}
