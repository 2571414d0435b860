package haier

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/haier-bridge/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// ControlPublisher accepts control requests. *Bus implements it.
type ControlPublisher interface {
	PublishControl(ev ControlEvent) int
}

// MQTTEventBridge mirrors bridge events onto MQTT and turns inbound
// command messages into control events.
type MQTTEventBridge struct {
	client   MQTTClient
	topics   Topics
	qos      byte
	controls ControlPublisher
	logger   Logger

	mu      sync.Mutex
	started bool
}

// NewMQTTEventBridge creates a bridge publishing under topics.
func NewMQTTEventBridge(client MQTTClient, topics Topics, qos byte, controls ControlPublisher, logger Logger) *MQTTEventBridge {
	return &MQTTEventBridge{
		client:   client,
		topics:   topics,
		qos:      qos,
		controls: controls,
		logger:   orNop(logger),
	}
}

// Start subscribes to the command topics.
func (b *MQTTEventBridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	if err := b.client.Subscribe(b.topics.CommandSubscribe(), b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	b.started = true
	return nil
}

// Stop unsubscribes from the command topics.
func (b *MQTTEventBridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	return b.client.Unsubscribe(b.topics.CommandSubscribe())
}

// OnDataChanged publishes ev as a state message.
func (b *MQTTEventBridge) OnDataChanged(ev DataChangedEvent) {
	payload, err := json.Marshal(NewStateMessage(ev))
	if err != nil {
		b.logger.Error("failed to encode state message", "device_id", ev.DeviceID, "error", err)
		return
	}
	if err := b.client.Publish(b.topics.State(ev.DeviceID), payload, b.qos, false); err != nil {
		b.logger.Warn("failed to publish state", "device_id", ev.DeviceID, "error", err)
	}
}

// OnStatusChanged publishes ev as the retained gateway status.
func (b *MQTTEventBridge) OnStatusChanged(ev StatusChangedEvent) {
	payload, err := json.Marshal(GatewayStatusMessage{Status: ev.Status, Timestamp: time.Now().UTC()})
	if err != nil {
		b.logger.Error("failed to encode gateway status", "error", err)
		return
	}
	if err := b.client.Publish(b.topics.GatewayStatus(), payload, b.qos, true); err != nil {
		b.logger.Warn("failed to publish gateway status", "status", ev.Status, "error", err)
	}
}

// handleCommand runs on the MQTT client's goroutine. Returned errors are
// logged by the client.
func (b *MQTTEventBridge) handleCommand(topic string, payload []byte) error {
	deviceID, ok := b.topics.ParseCommandTopic(topic)
	if !ok {
		return fmt.Errorf("invalid command topic %q", topic)
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding command for %s: %w", deviceID, err)
	}
	if len(msg.Attributes) == 0 {
		return fmt.Errorf("command for %s has no attributes", deviceID)
	}

	if n := b.controls.PublishControl(ControlEvent{DeviceID: deviceID, Attributes: msg.Attributes}); n == 0 {
		return fmt.Errorf("command for %s: %w", deviceID, ErrNotConnected)
	}
	b.logger.Debug("command accepted from mqtt", "device_id", deviceID)
	return nil
}
