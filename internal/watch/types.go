package watch

import (
	"time"
)

// EventType represents the type of change event
type EventType string

const (
	EventTypeSet    EventType = "set"
	EventTypeDelete EventType = "delete"
	EventTypeClear  EventType = "clear"
)

// Event represents a change to a collection
type Event struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	Key        string    `json:"key,omitempty"`
	Value      any       `json:"value,omitempty"`
	// Expired marks a delete caused by lazy TTL eviction
	Expired   bool  `json:"expired,omitempty"`
	Timestamp int64 `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(typ EventType, collection, key string, value any) Event {
	return Event{
		Type:       typ,
		Collection: collection,
		Key:        key,
		Value:      value,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// Handler receives events. Handlers run synchronously on the mutating goroutine.
type Handler func(Event)

// Observer is a single registration
type Observer struct {
	ID        string
	Pattern   string // Key or prefix to watch (supports * and **)
	Handler   Handler
	CreatedAt time.Time
}
