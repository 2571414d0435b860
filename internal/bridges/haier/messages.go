package haier

import (
	"fmt"
	"strings"
	"time"
)

// MQTT message types exchanged with local consumers of the bridge.

// StateMessage carries a device's changed attribute values.
// Topic: <prefix>/state/<deviceId>
// QoS: configured, Retained: No
type StateMessage struct {
	// DeviceID is the vendor device id.
	DeviceID string `json:"device_id"`

	// Attributes holds only the attributes present in the push.
	Attributes map[string]any `json:"attributes"`

	// Timestamp is when the bridge received the push (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// GatewayStatusMessage reports the gateway session going up or down.
// Topic: <prefix>/gateway/status
// Retained: Yes
type GatewayStatusMessage struct {
	Status    bool      `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage asks the bridge to write attributes to a device.
// Topic: <prefix>/command/<deviceId>
type CommandMessage struct {
	// Attributes maps attribute names to the values to set, for example
	// {"targetTemp": "42"}. The vendor expects values as strings.
	Attributes map[string]any `json:"attributes"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy means the gateway session and MQTT are both up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means the gateway session is down or reconnecting.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting is published once during startup.
	HealthStarting HealthStatus = "starting"

	// HealthStopping is published once during shutdown.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the periodic bridge health report.
// Topic: <prefix>/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string       `json:"bridge"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Version        string       `json:"version"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	DevicesManaged int          `json:"devices_managed"`
	Gateway        GatewayStats `json:"gateway"`

	// Reason explains a non-healthy status.
	Reason string `json:"reason,omitempty"`
}

// NewStateMessage builds a state message stamped with the current time.
func NewStateMessage(ev DataChangedEvent) StateMessage {
	return StateMessage{
		DeviceID:   ev.DeviceID,
		Attributes: ev.Attributes,
		Timestamp:  time.Now().UTC(),
	}
}

// NewHealthMessage builds a health message from gateway counters.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats GatewayStats, devices int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: devices,
		Gateway:        stats,
	}
}

// DefaultTopicPrefix is the topic root when none is configured.
const DefaultTopicPrefix = "haier"

// Topics builds MQTT topic names under a prefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimRight(t.Prefix, "/")
}

// State returns the state topic of deviceID.
// Example: haier/state/0007A8B9C2D1
func (t Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", t.prefix(), deviceID)
}

// Command returns the command topic of deviceID.
func (t Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", t.prefix(), deviceID)
}

// CommandSubscribe returns the wildcard subscription for all commands.
// Example: haier/command/+
func (t Topics) CommandSubscribe() string {
	return t.prefix() + "/command/+"
}

// GatewayStatus returns the retained gateway status topic.
func (t Topics) GatewayStatus() string {
	return t.prefix() + "/gateway/status"
}

// Health returns the retained health topic.
func (t Topics) Health() string {
	return t.prefix() + "/health"
}

// ParseCommandTopic extracts the device id from a command topic.
func (t Topics) ParseCommandTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !ok || rest == "" || strings.ContainsAny(rest, "/+#") {
		return "", false
	}
	return rest, true
}
