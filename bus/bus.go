package bus

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed = errors.New("bus closed")
)

// EventType names the state change an event records.
type EventType string

// Event types published by the registries and the think scheduler.
const (
	AccountCreated EventType = "account_created"
	AccountUpdated EventType = "account_updated"
	AccountDeleted EventType = "account_deleted"

	CallInitiated  EventType = "call_initiated"
	CallConnected  EventType = "call_connected"
	CallTerminated EventType = "call_terminated"

	AgentCreated EventType = "agent_created"
	AgentUpdated EventType = "agent_updated"
	AgentDeleted EventType = "agent_deleted"

	ThinkCompleted EventType = "think_completed"
)

// Event is an immutable record of a state change.
type Event struct {
	// ID is assigned at publish time. Ids start at 1 and have no gaps.
	ID uint64 `json:"id"`

	// Type names the state change.
	Type EventType `json:"type"`

	// Payload is type-specific data. It must not be mutated after publish.
	Payload interface{} `json:"payload"`

	// Timestamp is the publish time.
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the write side of the bus used by the registries.
type Publisher interface {
	// Publish assigns the next id and delivers the event to current subscribers.
	Publish(eventType EventType, payload interface{}) *Event
}

// Subscription represents an active subscription.
type Subscription interface {
	// Events returns the channel of delivered events, in id order.
	// Channel is closed when the subscription ends.
	Events() <-chan *Event

	// Dropped returns how many events were discarded because this
	// subscriber fell behind.
	Dropped() uint64

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds bus configuration.
type Config struct {
	// BufferSize bounds each subscriber's queue.
	// Default: 256
	BufferSize int

	// Retention is how many past events are kept for replay.
	// Default: 10000
	Retention int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
		Retention:  10000,
	}
}
