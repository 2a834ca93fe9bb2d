package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linyvhuo/webot/internal/events"
)

// Topic returns <prefix>/<event-type> with the dots of the event type turned into levels,
// e.g. webot/session/progress
func Topic(prefix string, t events.EventType) string {
	return join(prefix, strings.ReplaceAll(string(t), ".", "/"))
}

// StatusTopic carries the retained online/offline status
func StatusTopic(prefix string) string {
	return join(prefix, "status")
}

func join(prefix, suffix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// message is the JSON body of a mirrored event
type message struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Payload encodes an event as JSON
func Payload(event events.Event) ([]byte, error) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	data, err := json.Marshal(message{
		Type:      string(event.Type),
		Source:    event.Source,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Data:      event.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	return data, nil
}
