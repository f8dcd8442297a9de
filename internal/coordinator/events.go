package coordinator

import (
	"log/slog"
	"sync"
	"time"
)

// Event types
const (
	EventLearnedIRCode    = "learned_ir_code"
	EventIRCodeSent       = "ir_code_sent"
	EventIRTransferFailed = "ir_transfer_failed"
	EventScheduleSettings = "schedule_settings"
	EventSchedule         = "schedule"
	EventAttributeReport  = "attribute_report"
	EventClusterCommand   = "cluster_command"
)

// Event represents a coordinator event. Device is the configured device
// name, empty for events not tied to one.
type Event struct {
	Type   string      `json:"type"`
	Device string      `json:"device,omitempty"`
	Data   interface{} `json:"data"`
	Time   time.Time   `json:"time"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for coordinator events.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger.With("component", "events"),
	}
}

func (eb *EventBus) add(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eventType == "" {
		eb.allHandlers[id] = handler
	} else {
		if eb.handlers[eventType] == nil {
			eb.handlers[eventType] = make(map[uint64]EventHandler)
		}
		eb.handlers[eventType][id] = handler
	}
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if eventType == "" {
			delete(eb.allHandlers, id)
		} else {
			delete(eb.handlers[eventType], id)
		}
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	return eb.add(eventType, handler)
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.add("", handler)
}

// Emit sends an event to all matching handlers, stamping Time when unset.
// Handlers are called synchronously; a panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

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
		eb.call(h, event)
	}
}

func (eb *EventBus) call(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "device", event.Device, "panic", r)
		}
	}()
	h(event)
}
