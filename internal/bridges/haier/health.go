package haier

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// GatewayMonitor exposes gateway connection state. *Gateway implements it.
type GatewayMonitor interface {
	IsConnected() bool
	Stats() GatewayStats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher may be nil when MQTT is disabled; Current still works.
	Publisher HealthPublisher
	Gateway   GatewayMonitor
	Topics    Topics
	Logger    Logger
}

// HealthReporter manages periodic health status reporting.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	gateway   GatewayMonitor
	topics    Topics
	logger    Logger

	deviceCount   int
	deviceCountMu sync.RWMutex

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	bridgeID := cfg.BridgeID
	if bridgeID == "" {
		bridgeID = "haier"
	}

	return &HealthReporter{
		bridgeID:  bridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		gateway:   cfg.Gateway,
		topics:    cfg.Topics,
		logger:    orNop(cfg.Logger),
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(h.message(HealthStopping, ""))
	})
}

// SetDeviceCount updates the number of devices being listened to.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.deviceCountMu.Lock()
	h.deviceCount = count
	h.deviceCountMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(h.message(HealthStarting, "bridge starting"))
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Current())
}

// Current returns the health message for the present state.
func (h *HealthReporter) Current() HealthMessage {
	status, reason := h.determineStatus()
	return h.message(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health", "error", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.gateway == nil || !h.gateway.IsConnected() {
		return HealthDegraded, "gateway disconnected"
	}
	if h.publisher != nil && !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	h.deviceCountMu.RLock()
	devices := h.deviceCount
	h.deviceCountMu.RUnlock()

	var stats GatewayStats
	if h.gateway != nil {
		stats = h.gateway.Stats()
	}
	msg := NewHealthMessage(h.bridgeID, h.version, status, stats, devices, h.startTime)
	msg.Reason = reason
	return msg
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topics.Health(), payload, 1, true)
}
