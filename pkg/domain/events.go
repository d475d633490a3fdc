package domain

import "time"

// ---------------------------------------------------------------------------
// Domain events
// ---------------------------------------------------------------------------

// EventType classifies domain events for routing and filtering.
type EventType string

// Context prefixes keep event names unique.
const (
	// Message queue events
	EventMessageSent    EventType = "message.sent"
	EventMessageAcked   EventType = "message.acked"
	EventMessageRetried EventType = "message.retried"
	EventMessageFailed  EventType = "message.failed"
	EventMessageDropped EventType = "message.dropped"

	// Companion lifecycle events
	EventCompanionCreated   EventType = "companion.created"
	EventCompanionReady     EventType = "companion.ready"
	EventCompanionDestroyed EventType = "companion.destroyed"
	EventCompanionRecycled  EventType = "companion.recycled"
	EventCompanionTimeout   EventType = "companion.timeout"

	// Log accumulator and shipping events
	EventLogAdded      EventType = "log.added"
	EventLogShipped    EventType = "log.shipped"
	EventLogShipFailed EventType = "log.ship_failed"
	EventLogWiped      EventType = "log.wiped"
	EventLogTrimmed    EventType = "log.trimmed"

	// System-level events
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// Event is the interface all domain events implement.
type Event interface {
	// EventType returns the classified event type.
	EventType() EventType
	// OccurredAt returns when the event happened.
	OccurredAt() time.Time
	// AggregateID returns the ID of the object that produced this event.
	AggregateID() EntityID
	// Payload returns the event-specific data.
	Payload() interface{}
}

// BaseEvent provides a reusable implementation of the Event interface.
type BaseEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	AggID     EntityID    `json:"aggregate_id"`
	EventData interface{} `json:"data,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() EntityID { return e.AggID }
func (e BaseEvent) Payload() interface{}  { return e.EventData }

// NewEvent creates a new domain event.
func NewEvent(eventType EventType, aggregateID EntityID, data interface{}) BaseEvent {
	return BaseEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		AggID:     aggregateID,
		EventData: data,
	}
}

// ---------------------------------------------------------------------------
// Event bus
// ---------------------------------------------------------------------------

// EventHandler processes a domain event. Handlers should be idempotent.
type EventHandler func(Event)

// EventBus dispatches domain events to registered handlers.
type EventBus interface {
	// Publish dispatches an event to all registered handlers.
	Publish(event Event)
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler)
	// SubscribeAll registers a handler that receives every event.
	SubscribeAll(handler EventHandler)
	// Close shuts down the event bus.
	Close()
}

// NopEventBus drops every event. Services fall back to it when no bus is
// wired.
type NopEventBus struct{}

func (NopEventBus) Publish(Event)                     {}
func (NopEventBus) Subscribe(EventType, EventHandler) {}
func (NopEventBus) SubscribeAll(EventHandler)         {}
func (NopEventBus) Close()                            {}
