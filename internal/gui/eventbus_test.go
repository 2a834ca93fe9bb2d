package gui

import (
	"errors"
	"testing"

	"fyne.io/fyne/v2/widget"

	"github.com/linyvhuo/webot/internal/events"
)

func TestEventBridgeDispatchesInOrder(t *testing.T) {
	b := NewEventBridge(8)

	var got []string
	b.Subscribe(events.EventTypeState, func(e events.Event) { got = append(got, e.String("to")) })

	b.Publish(events.NewStateEvent("test", "Idle", "Starting"))
	b.Publish(events.NewProgressEvent("test", 0, 2))
	b.Publish(events.NewStateEvent("test", "Starting", "Running"))

	b.dispatch(b.drain())

	if len(got) != 2 || got[0] != "Starting" || got[1] != "Running" {
		t.Errorf("Expected [Starting Running], got %v", got)
	}
	if batch := b.drain(); len(batch) != 0 {
		t.Errorf("Expected an empty queue after drain, got %d events", len(batch))
	}
}

func TestEventBridgeDropsWhenFull(t *testing.T) {
	b := NewEventBridge(2)
	for i := 0; i < 5; i++ {
		b.Publish(events.NewProgressEvent("test", i, 5))
	}

	if n := len(b.drain()); n != 2 {
		t.Errorf("Expected 2 queued events, got %d", n)
	}
	if d := b.Dropped(); d != 3 {
		t.Errorf("Expected 3 dropped events, got %d", d)
	}
}

func TestEventBridgeIgnoresAfterStop(t *testing.T) {
	b := NewEventBridge(4)
	b.Stop()
	b.Stop()
	b.Publish(events.NewProgressEvent("test", 1, 1))

	if n := len(b.drain()); n != 0 {
		t.Errorf("Expected no events after Stop, got %d", n)
	}
}

func TestLogTabKeepsNewestEntries(t *testing.T) {
	l := NewLogTab()
	for i := 0; i < maxLogEntries+10; i++ {
		l.Add(LogEntry{Level: events.LevelInfo, Message: "line"})
	}
	l.HandleEvent(events.NewLogEvent("locator", events.LevelWarn, "last", errors.New("boom")))

	entries := l.filtered()
	if len(entries) != maxLogEntries {
		t.Fatalf("Expected %d entries, got %d", maxLogEntries, len(entries))
	}
	last := entries[len(entries)-1]
	if last.Message != "last" || last.Err != "boom" || last.Source != "locator" || last.Level != events.LevelWarn {
		t.Errorf("Unexpected last entry: %+v", last)
	}

	l.Clear()
	if n := len(l.filtered()); n != 0 {
		t.Errorf("Expected no entries after Clear, got %d", n)
	}
}

func TestLevelRank(t *testing.T) {
	order := []events.Level{events.LevelDebug, events.LevelInfo, events.LevelWarn, events.LevelError}
	for i := 1; i < len(order); i++ {
		if levelRank(order[i-1]) >= levelRank(order[i]) {
			t.Errorf("Expected %s to rank below %s", order[i-1], order[i])
		}
	}
}

func TestStateImportance(t *testing.T) {
	tests := []struct {
		state string
		want  widget.Importance
	}{
		{"Running", widget.HighImportance},
		{"Starting", widget.HighImportance},
		{"Completed", widget.SuccessImportance},
		{"Error", widget.DangerImportance},
		{"Idle", widget.MediumImportance},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			if got := stateImportance(tt.state); got != tt.want {
				t.Errorf("stateImportance(%q) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}
