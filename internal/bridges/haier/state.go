package haier

import (
	"maps"
	"sync"
	"time"
)

// DeviceState is the last known view of one device.
type DeviceState struct {
	Attributes map[string]any `json:"attributes"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// StateTracker keeps the latest attribute values per device and the
// gateway status, merging pushes last-write-wins per attribute.
type StateTracker struct {
	mu        sync.RWMutex
	devices   map[string]DeviceState
	gatewayUp bool
	now       func() time.Time
}

// NewStateTracker creates an empty tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{devices: make(map[string]DeviceState), now: time.Now}
}

// OnDataChanged merges ev into the device's state.
func (s *StateTracker) OnDataChanged(ev DataChangedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.devices[ev.DeviceID]
	if st.Attributes == nil {
		st.Attributes = make(map[string]any, len(ev.Attributes))
	}
	maps.Copy(st.Attributes, ev.Attributes)
	st.UpdatedAt = s.now()
	s.devices[ev.DeviceID] = st
}

// OnStatusChanged records the gateway status.
func (s *StateTracker) OnStatusChanged(ev StatusChangedEvent) {
	s.mu.Lock()
	s.gatewayUp = ev.Status
	s.mu.Unlock()
}

// Device returns a copy of deviceID's state.
func (s *StateTracker) Device(deviceID string) (DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.devices[deviceID]
	if !ok {
		return DeviceState{}, false
	}
	return DeviceState{Attributes: maps.Clone(st.Attributes), UpdatedAt: st.UpdatedAt}, true
}

// GatewayUp returns the last reported gateway status.
func (s *StateTracker) GatewayUp() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gatewayUp
}
