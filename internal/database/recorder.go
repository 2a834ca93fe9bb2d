package database

import (
	"github.com/linyvhuo/webot/internal/events"
)

// HistoryRecorder writes session lifecycle events from the bus into the database.
// Storage failures are reported through onError and never reach the automation worker.
type HistoryRecorder struct {
	db              *DB
	eventBus        events.EventBus
	onError         func(error)
	subscriptionIDs []events.SubscriptionID
}

// NewHistoryRecorder subscribes a recorder to the session events of eventBus
func NewHistoryRecorder(db *DB, eventBus events.EventBus, onError func(error)) *HistoryRecorder {
	if onError == nil {
		onError = func(error) {}
	}
	hr := &HistoryRecorder{db: db, eventBus: eventBus, onError: onError}

	for _, t := range []events.EventType{
		events.EventTypeSessionStarted,
		events.EventTypeRoundFinished,
		events.EventTypeSessionFinished,
	} {
		hr.subscriptionIDs = append(hr.subscriptionIDs, eventBus.Subscribe(t, hr.HandleEvent))
	}
	return hr
}

// HandleEvent stores one event
func (hr *HistoryRecorder) HandleEvent(event events.Event) {
	var err error

	switch event.Type {
	case events.EventTypeSessionStarted:
		err = hr.db.StartSession(Session{
			ID:           event.String("session_id"),
			TargetTitle:  event.String("target"),
			QuestionMode: event.String("question_mode"),
			InputMethod:  event.String("input_method"),
			TotalRounds:  event.Int("total"),
			StartedAt:    event.Timestamp,
		})

	case events.EventTypeRoundFinished:
		r := Round{
			SessionID:  event.String("session_id"),
			Round:      event.Int("round"),
			Question:   event.String("question"),
			Status:     event.String("status"),
			DurationMs: int64(event.Int("duration_ms")),
			RecordedAt: event.Timestamp,
		}
		if msg := event.String("error"); msg != "" {
			r.ErrorMessage = &msg
		}
		err = hr.db.RecordRound(r)

	case events.EventTypeSessionFinished:
		err = hr.db.FinishSession(event.String("session_id"), event.String("status"),
			event.Int("completed"), event.String("error"))
	}

	if err != nil {
		hr.onError(err)
	}
}

// Close unsubscribes from the bus
func (hr *HistoryRecorder) Close() {
	for _, id := range hr.subscriptionIDs {
		hr.eventBus.Unsubscribe(id)
	}
	hr.subscriptionIDs = nil
}
