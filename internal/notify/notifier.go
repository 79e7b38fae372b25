package notify

import (
	"encoding/json"

	"github.com/ridgelink/apgw-core/internal/infrastructure/mqtt"
)

// Notification event types.
const (
	TypeDeviceConnection      = "device_connection"
	TypeDeviceDisconnection   = "device_disconnection"
	TypeDeviceStatistics      = "device_statistics"
	TypeConfigurationUpgrade  = "device_configuration_upgrade"
	TypeFirmwareUpgrade       = "device_firmware_upgrade"
	TypeConnectionsStatistics = "device_connections_statistics"
)

// publishQoS is the QoS level for notification publishes. At-most-once is
// enough: these are advisory events, consumers reconcile via the REST API.
const publishQoS = 0

// Publisher is the slice of the MQTT client the notifier uses.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the minimal logging interface used by the notifier.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Envelope is the outer frame every notification is wrapped in.
type Envelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// SingleDevice identifies one device in connect, disconnect and statistics
// notifications.
type SingleDevice struct {
	SerialNumber string `json:"serialNumber"`
}

// ConfigurationChange reports a device adopting a pushed configuration.
type ConfigurationChange struct {
	SerialNumber string `json:"serialNumber"`
	OldRevision  uint64 `json:"oldUUID"`
	NewRevision  uint64 `json:"newUUID"`
}

// FirmwareChange reports a device reconnecting with different firmware.
type FirmwareChange struct {
	SerialNumber string `json:"serialNumber"`
	NewFirmware  string `json:"newFirmware"`
}

// ConnectionsStatistics carries the periodic aggregate connection counts.
type ConnectionsStatistics struct {
	NumberOfDevices           uint64 `json:"numberOfDevices"`
	AverageConnectedTime      uint64 `json:"averageConnectedTime"`
	NumberOfConnectingDevices uint64 `json:"numberOfConnectingDevices"`
}

// Notifier publishes typed notification envelopes. A nil publisher disables
// it; every method then becomes a no-op, so callers never need to guard.
type Notifier struct {
	publisher Publisher
	topics    mqtt.Topics
	logger    Logger
}

// NewNotifier creates a notifier over the given publisher. Pass nil to
// disable publishing.
func NewNotifier(publisher Publisher) *Notifier {
	return &Notifier{
		publisher: publisher,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for publish failures.
func (n *Notifier) SetLogger(logger Logger) {
	n.logger = logger
}

// DeviceConnected reports a completed connect handshake.
func (n *Notifier) DeviceConnected(serialNumber string) {
	n.send(TypeDeviceConnection, SingleDevice{SerialNumber: serialNumber})
}

// DeviceDisconnected reports an ended session.
func (n *Notifier) DeviceDisconnected(serialNumber string) {
	n.send(TypeDeviceDisconnection, SingleDevice{SerialNumber: serialNumber})
}

// DeviceStatistics reports a received state frame.
func (n *Notifier) DeviceStatistics(serialNumber string) {
	n.send(TypeDeviceStatistics, SingleDevice{SerialNumber: serialNumber})
}

// ConfigurationUpgrade reports a device moving from one configuration
// revision to another.
func (n *Notifier) ConfigurationUpgrade(serialNumber string, oldRevision, newRevision uint64) {
	n.send(TypeConfigurationUpgrade, ConfigurationChange{
		SerialNumber: serialNumber,
		OldRevision:  oldRevision,
		NewRevision:  newRevision,
	})
}

// FirmwareUpgrade reports a device reconnecting with new firmware.
func (n *Notifier) FirmwareUpgrade(serialNumber, newFirmware string) {
	n.send(TypeFirmwareUpgrade, FirmwareChange{
		SerialNumber: serialNumber,
		NewFirmware:  newFirmware,
	})
}

// ConnectionsCount reports the periodic aggregate connection statistics.
func (n *Notifier) ConnectionsCount(devices, averageConnectedSecs, connecting uint64) {
	n.send(TypeConnectionsStatistics, ConnectionsStatistics{
		NumberOfDevices:           devices,
		AverageConnectedTime:      averageConnectedSecs,
		NumberOfConnectingDevices: connecting,
	})
}

func (n *Notifier) send(eventType string, content any) {
	if n.publisher == nil {
		return
	}

	raw, err := json.Marshal(content)
	if err != nil {
		n.logger.Warn("failed to encode notification", "type", eventType, "error", err)
		return
	}
	payload, err := json.Marshal(Envelope{Type: eventType, Content: raw})
	if err != nil {
		n.logger.Warn("failed to encode notification envelope", "type", eventType, "error", err)
		return
	}

	if err := n.publisher.Publish(n.topics.Notify(eventType), payload, publishQoS, false); err != nil {
		n.logger.Warn("failed to publish notification", "type", eventType, "error", err)
	}
}
