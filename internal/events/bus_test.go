package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewEventBus(64)
	defer bus.Stop()

	var mu sync.Mutex
	var got []int
	bus.Subscribe(EventTypeProgress, func(e Event) {
		mu.Lock()
		got = append(got, e.Int("current"))
		mu.Unlock()
	})

	for i := 1; i <= 10; i++ {
		bus.Publish(NewProgressEvent("test", i, 10))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 10
	})

	for i, v := range got {
		if v != i+1 {
			t.Fatalf("event %d has current=%d, want %d", i, v, i+1)
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(16)
	defer bus.Stop()

	var calls int
	var mu sync.Mutex
	id := bus.Subscribe(EventTypeLog, func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	if n := bus.SubscriberCount(EventTypeLog); n != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", n)
	}

	bus.Unsubscribe(id)
	if n := bus.SubscriberCount(EventTypeLog); n != 0 {
		t.Fatalf("SubscriberCount after Unsubscribe = %d, want 0", n)
	}

	bus.Publish(NewLogEvent("test", LevelInfo, "hello", nil))
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("handler called %d times after Unsubscribe", calls)
	}
}

func TestBusHandlerPanicDoesNotKillDispatch(t *testing.T) {
	bus := NewEventBus(16)
	defer bus.Stop()

	var mu sync.Mutex
	var seen int
	var reported []EventType
	bus.OnPanic(func(t EventType, _ interface{}) {
		mu.Lock()
		reported = append(reported, t)
		mu.Unlock()
	})
	bus.Subscribe(EventTypeState, func(Event) {
		panic("boom")
	})
	bus.Subscribe(EventTypeState, func(Event) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	bus.Publish(NewStateEvent("test", "Idle", "Starting"))
	bus.Publish(NewStateEvent("test", "Starting", "Running"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 2 || reported[0] != EventTypeState {
		t.Errorf("Expected two reported panics on %s, got %v", EventTypeState, reported)
	}
	if n := bus.Panics(); n != 2 {
		t.Errorf("Panics = %d, want 2", n)
	}
}

func TestBusPublishAfterStopIsDropped(t *testing.T) {
	bus := NewEventBus(4)
	bus.Stop()

	bus.Publish(NewLogEvent("test", LevelInfo, "late", nil))
	if bus.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", bus.Dropped())
	}
}

func TestEventConstructors(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		typ   EventType
		key   string
		want  string
	}{
		{"log", NewLogEvent("input", LevelWarn, "short write", errors.New("sent 1 of 2")), EventTypeLog, "error", "sent 1 of 2"},
		{"log level", NewLogEvent("input", LevelWarn, "short write", nil), EventTypeLog, "level", "WARN"},
		{"state", NewStateEvent("orchestrator", "Running", "Error"), EventTypeState, "to", "Error"},
		{"user error", NewUserErrorEvent("orchestrator", "window not found", nil), EventTypeUserError, "message", "window not found"},
		{"progress", NewProgressEvent("orchestrator", 2, 3), EventTypeProgress, "total", "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.event.Type != tt.typ {
				t.Errorf("Type = %v, want %v", tt.event.Type, tt.typ)
			}
			if got := tt.event.String(tt.key); got != tt.want {
				t.Errorf("String(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestMultiSink(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	sink := Multi(a, nil, b)

	sink.Publish(NewProgressEvent("test", 1, 1))

	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("Multi delivered %d/%d events, want 1/1", len(a.Events()), len(b.Events()))
	}
}
