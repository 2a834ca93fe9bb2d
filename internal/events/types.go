package events

import (
	"fmt"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	// Engine output
	EventTypeLog       EventType = "engine.log"
	EventTypeProgress  EventType = "session.progress"
	EventTypeState     EventType = "session.state"
	EventTypeUserError EventType = "session.user_error"

	// Session lifecycle, published alongside state changes for history/remote sinks
	EventTypeSessionStarted  EventType = "session.started"
	EventTypeSessionFinished EventType = "session.finished"
	EventTypeRoundFinished   EventType = "session.round"
)

// AllTypes lists every event type the engine publishes
var AllTypes = []EventType{
	EventTypeLog,
	EventTypeProgress,
	EventTypeState,
	EventTypeUserError,
	EventTypeSessionStarted,
	EventTypeSessionFinished,
	EventTypeRoundFinished,
}

// Session and round outcomes carried by lifecycle events
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusError     = "error"

	RoundOK           = "ok"
	RoundSubmitFailed = "submit_failed"
	RoundTimeout      = "timeout"
)

// Level tags log events by severity
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event (e.g., "orchestrator", "input")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// Sink receives events from the engine. Implementations must not block for long,
// the automation worker publishes synchronously.
type Sink interface {
	Publish(event Event)
}

// SinkFunc adapts a plain function to the Sink interface
type SinkFunc func(Event)

// Publish calls f(event)
func (f SinkFunc) Publish(event Event) {
	f(event)
}

// Discard is a Sink that drops everything
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Publish(e)
			}
		}
	})
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	Sink

	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Stop stops the event bus and drains remaining events
	Stop()
}

// Helper functions to create common events

// NewLogEvent creates a log line event
func NewLogEvent(source string, level Level, message string, err error) Event {
	data := map[string]interface{}{
		"level":   string(level),
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{
		Type:      EventTypeLog,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewProgressEvent creates a progress update
func NewProgressEvent(source string, current, total int) Event {
	return Event{
		Type:      EventTypeProgress,
		Source:    source,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"current": current,
			"total":   total,
		},
	}
}

// NewStateEvent creates a state change notification
func NewStateEvent(source, from, to string) Event {
	return Event{
		Type:      EventTypeState,
		Source:    source,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	}
}

// NewUserErrorEvent creates an operator-facing error notification
func NewUserErrorEvent(source, message string, err error) Event {
	data := map[string]interface{}{
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{
		Type:      EventTypeUserError,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewSessionStartedEvent announces a new session
func NewSessionStartedEvent(sessionID, target string, total int, questionMode, inputMethod string) Event {
	return Event{
		Type:      EventTypeSessionStarted,
		Source:    "orchestrator",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"session_id":    sessionID,
			"target":        target,
			"total":         total,
			"question_mode": questionMode,
			"input_method":  inputMethod,
		},
	}
}

// NewSessionFinishedEvent announces the end of a session
func NewSessionFinishedEvent(sessionID, status string, completed, total int, err error) Event {
	data := map[string]interface{}{
		"session_id": sessionID,
		"status":     status,
		"completed":  completed,
		"total":      total,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{
		Type:      EventTypeSessionFinished,
		Source:    "orchestrator",
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewRoundFinishedEvent reports the outcome of one question/answer round
func NewRoundFinishedEvent(sessionID string, round int, question, status string, duration time.Duration, err error) Event {
	data := map[string]interface{}{
		"session_id":  sessionID,
		"round":       round,
		"question":    question,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{
		Type:      EventTypeRoundFinished,
		Source:    "orchestrator",
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Accessors used by sinks that only care about a few fields

// String returns a string field from the event data, or "" when absent
func (e Event) String(key string) string {
	v, ok := e.Data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns an integer field from the event data, or 0 when absent
func (e Event) Int(key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
