package haier

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// DataChangedEvent carries a device's newly reported attribute values.
type DataChangedEvent struct {
	DeviceID   string         `json:"deviceId"`
	Attributes map[string]any `json:"attributes"`
}

// StatusChangedEvent reports the gateway session going up or down.
type StatusChangedEvent struct {
	Status bool `json:"status"`
}

// ControlEvent asks for attributes to be written to a device.
type ControlEvent struct {
	DeviceID   string         `json:"deviceId"`
	Attributes map[string]any `json:"attributes"`
}

// Publisher receives the events a gateway session emits.
type Publisher interface {
	PublishDataChanged(ev DataChangedEvent)
	PublishStatusChanged(ev StatusChangedEvent)
}

// ControlSource delivers control requests to a gateway session. The
// returned function unregisters the handler.
type ControlSource interface {
	SubscribeControl(handler func(ControlEvent)) (cancel func())
}

// Bus is an in-process event hub. It implements both Publisher and
// ControlSource and fans each event out to every registered handler.
//
// Handlers run synchronously on the publishing goroutine, so events of
// one kind reach each handler in publish order. A panicking handler is
// logged and does not affect the others.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	data    map[int]func(DataChangedEvent)
	status  map[int]func(StatusChangedEvent)
	control map[int]func(ControlEvent)

	logger Logger
}

// NewBus creates an empty bus.
func NewBus(logger Logger) *Bus {
	return &Bus{
		data:    make(map[int]func(DataChangedEvent)),
		status:  make(map[int]func(StatusChangedEvent)),
		control: make(map[int]func(ControlEvent)),
		logger:  orNop(logger),
	}
}

// SubscribeData registers a data-changed handler.
func (b *Bus) SubscribeData(handler func(DataChangedEvent)) (cancel func()) {
	return subscribe(b, b.data, handler)
}

// SubscribeStatus registers a status-changed handler.
func (b *Bus) SubscribeStatus(handler func(StatusChangedEvent)) (cancel func()) {
	return subscribe(b, b.status, handler)
}

// SubscribeControl registers a control handler.
func (b *Bus) SubscribeControl(handler func(ControlEvent)) (cancel func()) {
	return subscribe(b, b.control, handler)
}

// PublishDataChanged delivers ev to every data handler.
func (b *Bus) PublishDataChanged(ev DataChangedEvent) {
	for _, h := range snapshotHandlers(b, b.data) {
		b.invoke("data_changed", func() { h(ev) })
	}
}

// PublishStatusChanged delivers ev to every status handler.
func (b *Bus) PublishStatusChanged(ev StatusChangedEvent) {
	for _, h := range snapshotHandlers(b, b.status) {
		b.invoke("status_changed", func() { h(ev) })
	}
}

// PublishControl delivers ev to every control handler and reports how
// many received it. Zero means no gateway session is listening.
func (b *Bus) PublishControl(ev ControlEvent) int {
	handlers := snapshotHandlers(b, b.control)
	for _, h := range handlers {
		b.invoke("control", func() { h(ev) })
	}
	return len(handlers)
}

func (b *Bus) invoke(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", "event", kind, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func subscribe[E any](b *Bus, handlers map[int]func(E), h func(E)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(handlers, id)
			b.mu.Unlock()
		})
	}
}

// snapshotHandlers copies the handler set in registration order so
// handlers can run without the lock held.
func snapshotHandlers[E any](b *Bus, handlers map[int]func(E)) []func(E) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]func(E), 0, len(handlers))
	for _, id := range slices.Sorted(maps.Keys(handlers)) {
		out = append(out, handlers[id])
	}
	return out
}
