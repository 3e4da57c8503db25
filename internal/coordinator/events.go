package coordinator

import (
	"log/slog"
	"sync"
)

// Event types
const (
	EventDeviceJoined      = "device_joined"
	EventDeviceLeft        = "device_left"
	EventDeviceAnnounce    = "device_announce"
	EventDeviceInterviewed = "device_interviewed"
	EventAttributeReport   = "attribute_report"
	EventClusterCommand    = "cluster_command"
	EventIndication        = "indication"
	EventStateChange       = "state_change"
	EventNetworkState      = "network_state"
	EventPermitJoin        = "permit_join"
	EventLocalReport       = "local_report"
)

// Event represents a coordinator event.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for coordinator events. Events raised from
// co-processor indications are emitted on the driver's reader goroutine, so
// handlers must return quickly and must not issue requests inline.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit sends an event to all matching handlers.
// Handlers are called synchronously; a panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}

// DeviceEvent is the payload of device joined, left, announce and
// interviewed events.
type DeviceEvent struct {
	IEEEAddress  string `json:"ieee_address"`
	ShortAddress uint16 `json:"short_address"`
	Capabilities uint8  `json:"capabilities,omitempty"`
	Rejoin       bool   `json:"rejoin,omitempty"`
	Endpoints    int    `json:"endpoints,omitempty"`
}

// ReportEvent is the payload of attribute report events. IEEEAddress is
// empty for devices missing from the address table.
type ReportEvent struct {
	IEEEAddress  string `json:"ieee_address,omitempty"`
	ShortAddress uint16 `json:"short_address"`
	Endpoint     uint8  `json:"endpoint"`
	ClusterID    uint16 `json:"cluster_id"`
	ClusterName  string `json:"cluster_name"`
	AttrID       uint16 `json:"attr_id"`
	AttrName     string `json:"attr_name"`
	Value        any    `json:"value"`
	LQI          uint8  `json:"lqi"`
}

// CommandEvent is the payload of cluster command events: a cluster-specific
// command from a device that no local server handled.
type CommandEvent struct {
	ShortAddress uint16         `json:"short_address"`
	Endpoint     uint8          `json:"endpoint"`
	ClusterID    uint16         `json:"cluster_id"`
	CommandID    uint8          `json:"command_id"`
	Command      string         `json:"command,omitempty"`
	Values       map[string]any `json:"values,omitempty"`
	Payload      []byte         `json:"payload,omitempty"`
}
