package gui

import (
	"sync"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"

	"github.com/linyvhuo/webot/internal/events"
)

// drainInterval is how often queued engine events are handed to the UI thread
const drainInterval = 10 * time.Millisecond

// UIHandler processes an engine event on the Fyne main thread
type UIHandler func(events.Event)

// EventBridge carries engine events onto the Fyne main thread. It is a Sink: the engine
// publishes from its worker goroutine, a ticker drains the queue and runs the handlers
// inside fyne.Do, so handlers may touch widgets directly.
type EventBridge struct {
	queue    chan events.Event
	handlers map[events.EventType][]UIHandler
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

// NewEventBridge creates a bridge buffering up to size events between drains
func NewEventBridge(size int) *EventBridge {
	if size <= 0 {
		size = 256
	}
	return &EventBridge{
		queue:    make(chan events.Event, size),
		handlers: make(map[events.EventType][]UIHandler),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a UI handler for one event type
func (b *EventBridge) Subscribe(eventType events.EventType, handler UIHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish implements events.Sink. It never blocks; a full queue drops the event.
func (b *EventBridge) Publish(event events.Event) {
	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events did not fit in the queue
func (b *EventBridge) Dropped() int64 {
	return b.dropped.Load()
}

// Start begins draining. Call after the window is shown.
func (b *EventBridge) Start() {
	go func() {
		ticker := time.NewTicker(drainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if batch := b.drain(); len(batch) > 0 {
					fyne.Do(func() { b.dispatch(batch) })
				}
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Stop ends draining; later events are ignored
func (b *EventBridge) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// drain takes every queued event
func (b *EventBridge) drain() []events.Event {
	var batch []events.Event
	for {
		select {
		case e := <-b.queue:
			batch = append(batch, e)
		default:
			return batch
		}
	}
}

func (b *EventBridge) dispatch(batch []events.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, e := range batch {
		for _, h := range b.handlers[e.Type] {
			h(e)
		}
	}
}
