package haier

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// CloudAPI is the REST surface the service uses. *Client implements it.
type CloudAPI interface {
	ListDevices(ctx context.Context) ([]Device, error)
	GetDeviceSnapshot(ctx context.Context, deviceID string) (map[string]any, error)
}

// AttributeSource resolves a device's attribute model. *AttributeCache implements it.
type AttributeSource interface {
	GetAttributes(ctx context.Context, d Device) ([]Attribute, error)
	Invalidate(ctx context.Context, deviceID string) error
}

// Listener runs gateway sessions. *Gateway implements it.
type Listener interface {
	Listen(ctx context.Context, deviceIDs []string) error
}

// EventHub is what the service publishes to and routes control through.
// *Bus implements it.
type EventHub interface {
	Publisher
	ControlPublisher
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	API        CloudAPI
	Attributes AttributeSource
	Listener   Listener
	Events     EventHub
	Filter     DeviceFilter

	// Tokens, when set, is refreshed before the device list is fetched.
	Tokens *TokenStore

	// Health, when set, is told how many devices are listened to.
	Health *HealthReporter

	Logger Logger
}

// Service ties the REST client, attribute cache and gateway together:
// it lists and filters devices, loads their models, publishes an
// initial snapshot per device and keeps one gateway listener running.
//
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	api        CloudAPI
	attributes AttributeSource
	listener   Listener
	events     EventHub
	filter     DeviceFilter
	tokens     *TokenStore
	health     *HealthReporter
	logger     Logger

	errs chan error

	mu      sync.RWMutex
	runCtx  context.Context
	devices []Device
	cancel  context.CancelFunc
	done    chan struct{}

	// reloadMu serialises Start, Reload and Stop.
	reloadMu sync.Mutex
}

// NewService creates a Service. Call Start to begin.
func NewService(opts ServiceOptions) *Service {
	return &Service{
		api:        opts.API,
		attributes: opts.Attributes,
		listener:   opts.Listener,
		events:     opts.Events,
		filter:     opts.Filter,
		tokens:     opts.Tokens,
		health:     opts.Health,
		logger:     orNop(opts.Logger),
		errs:       make(chan error, 1),
	}
}

// Start loads devices, publishes their initial snapshots and starts the
// gateway listener. The listener runs until ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	return s.reload(ctx)
}

// Reload re-reads the device list and replaces the running listener
// with a new one. The previous session is cancelled after its
// successor starts; its status events are suppressed by the gateway.
func (s *Service) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	s.mu.RLock()
	started := s.runCtx != nil
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	return s.reload(ctx)
}

func (s *Service) reload(ctx context.Context) error {
	if s.tokens != nil {
		if err := s.tokens.EnsureFresh(ctx, DefaultRefreshMargin); err != nil {
			return fmt.Errorf("refreshing token: %w", err)
		}
	}

	all, err := s.api.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	devices := s.filter.Apply(all)
	s.logger.Info("devices loaded", "bound", len(all), "selected", len(devices))

	for i := range devices {
		attrs, err := s.attributes.GetAttributes(ctx, devices[i])
		if err != nil {
			s.logger.Warn("attribute model unavailable", "device_id", devices[i].ID, "error", err)
			continue
		}
		devices[i].Attributes = attrs
	}

	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()
	if s.health != nil {
		s.health.SetDeviceCount(len(devices))
	}

	s.renderInitial(ctx, devices)
	s.startListener(deviceIDs(devices))
	return nil
}

// renderInitial publishes a live snapshot per device so consumers have
// values before the first push arrives.
func (s *Service) renderInitial(ctx context.Context, devices []Device) {
	for _, d := range devices {
		values, err := s.api.GetDeviceSnapshot(ctx, d.ID)
		if err != nil {
			s.logger.Warn("initial snapshot failed", "device_id", d.ID, "error", err)
			continue
		}
		s.events.PublishDataChanged(DataChangedEvent{DeviceID: d.ID, Attributes: values})
	}
}

func (s *Service) startListener(ids []string) {
	s.mu.Lock()
	ctx, cancel := context.WithCancel(s.runCtx)
	done := make(chan struct{})
	prevCancel, prevDone := s.cancel, s.done
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.listener.Listen(ctx, ids); err != nil {
			s.logger.Error("gateway listener stopped", "error", err)
			select {
			case s.errs <- err:
			default:
			}
		}
	}()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}
}

// Stop cancels the listener and waits for it to exit.
func (s *Service) Stop() {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Errors delivers listener failures that ended the session for good.
func (s *Service) Errors() <-chan error {
	return s.errs
}

// Devices returns the selected devices with their attribute models.
func (s *Service) Devices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.devices)
}

// Device returns one selected device.
func (s *Service) Device(id string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// Snapshot fetches the live values of a selected device.
func (s *Service) Snapshot(ctx context.Context, id string) (map[string]any, error) {
	if _, ok := s.Device(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return s.api.GetDeviceSnapshot(ctx, id)
}

// RefreshModel drops a selected device's cached attribute model and
// fetches it again.
func (s *Service) RefreshModel(ctx context.Context, id string) (Device, error) {
	d, ok := s.Device(id)
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if err := s.attributes.Invalidate(ctx, id); err != nil {
		return Device{}, fmt.Errorf("invalidating model for %s: %w", id, err)
	}
	attrs, err := s.attributes.GetAttributes(ctx, d)
	if err != nil {
		return Device{}, fmt.Errorf("fetching model for %s: %w", id, err)
	}
	d.Attributes = attrs

	s.mu.Lock()
	for i := range s.devices {
		if s.devices[i].ID == id {
			s.devices[i].Attributes = attrs
		}
	}
	s.mu.Unlock()

	s.logger.Info("attribute model refreshed", "device_id", id, "attributes", len(attrs))
	return d, nil
}

// Control asks the live gateway session to write attributes to a
// selected device. Delivery is not acknowledged; the device's next push
// reflects the outcome.
func (s *Service) Control(ev ControlEvent) error {
	if _, ok := s.Device(ev.DeviceID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, ev.DeviceID)
	}
	if s.events.PublishControl(ev) == 0 {
		return ErrNotConnected
	}
	return nil
}

func deviceIDs(devices []Device) []string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return ids
}
