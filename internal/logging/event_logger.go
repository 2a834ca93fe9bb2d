package logging

import (
	"fmt"

	"github.com/linyvhuo/webot/internal/events"
)

// EventLogger subscribes to the event bus and writes engine events through a Logger
type EventLogger struct {
	logger          *Logger
	eventBus        events.EventBus
	subscriptionIDs []events.SubscriptionID
}

// NewEventLogger creates a new event logger and subscribes it to every engine event type
func NewEventLogger(eventBus events.EventBus, logger *Logger) *EventLogger {
	el := &EventLogger{
		logger:   logger,
		eventBus: eventBus,
	}

	for _, eventType := range events.AllTypes {
		el.subscriptionIDs = append(el.subscriptionIDs, eventBus.Subscribe(eventType, el.HandleEvent))
	}

	return el
}

// HandleEvent logs a single event. Log events keep their own severity and source.
func (el *EventLogger) HandleEvent(event events.Event) {
	switch event.Type {
	case events.EventTypeLog:
		el.handleLogLine(event)

	case events.EventTypeProgress:
		el.logger.Component(event.Source).Info(fmt.Sprintf("Progress %d/%d", event.Int("current"), event.Int("total")))

	case events.EventTypeState:
		el.logger.Component(event.Source).Info(fmt.Sprintf("State %s -> %s", event.String("from"), event.String("to")))

	case events.EventTypeUserError:
		el.logger.Component(event.Source).Error(event.String("message"), errorField(event))

	default:
		context := map[string]interface{}{
			"event_type": string(event.Type),
		}
		for k, v := range event.Data {
			context[k] = v
		}
		el.logger.Component(event.Source).InfoWithContext(fmt.Sprintf("Event: %s", event.Type), context)
	}
}

func (el *EventLogger) handleLogLine(event events.Event) {
	l := el.logger.Component(event.Source)
	msg := event.String("message")

	switch events.Level(event.String("level")) {
	case events.LevelDebug:
		l.Debug(msg)
	case events.LevelWarn:
		if err := errorField(event); err != nil {
			l.WarnWithContext(msg, map[string]interface{}{"error": err.Error()})
			return
		}
		l.Warn(msg)
	case events.LevelError:
		l.Error(msg, errorField(event))
	default:
		l.Info(msg)
	}
}

// Close removes all subscriptions
func (el *EventLogger) Close() {
	for _, id := range el.subscriptionIDs {
		el.eventBus.Unsubscribe(id)
	}
	el.subscriptionIDs = nil
}

type eventError string

func (e eventError) Error() string { return string(e) }

func errorField(event events.Event) error {
	if s := event.String("error"); s != "" {
		return eventError(s)
	}
	return nil
}
