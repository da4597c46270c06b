// Package events provides the in-process event bus used to fan out
// session lifecycle and stage progress notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of event
type EventType string

const (
	// EventSessionCreated fires when a session enters the registry
	EventSessionCreated EventType = "tracking.session.created"
	// EventSessionDeleted fires when a session is cleaned up
	EventSessionDeleted EventType = "tracking.session.deleted"
	// EventStageProgress fires on every progress/message update
	EventStageProgress EventType = "tracking.stage.progress"
	// EventStageCompleted fires when a stage reaches its terminal status
	EventStageCompleted EventType = "tracking.stage.completed"
	// EventStageFailed fires when a stage transitions the session to error
	EventStageFailed EventType = "tracking.stage.failed"
)

// Event is a single bus message
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an event with generated ID and timestamp
func NewEvent(eventType EventType, source, message string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Message:   message,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// NewEventWithData creates an event carrying structured data
func NewEventWithData(eventType EventType, source, message string, data map[string]interface{}) Event {
	event := NewEvent(eventType, source, message)
	event.Data = data
	return event
}
