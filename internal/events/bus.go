package events

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

// PanicHandler is told about a subscriber that panicked. The event is still delivered
// to the remaining subscribers.
type PanicHandler func(eventType EventType, recovered interface{})

// DefaultEventBus fans engine events out to subscribers on one dispatch goroutine, so every
// subscriber sees events in publish order. Publish never blocks the automation worker.
type DefaultEventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]subscription
	onPanic     PanicHandler

	queue    chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	nextID  atomic.Int64
	dropped atomic.Int64
	panics  atomic.Int64
}

// NewEventBus starts a bus buffering up to bufferSize undelivered events
func NewEventBus(bufferSize int) *DefaultEventBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	bus := &DefaultEventBus{
		subscribers: make(map[EventType][]subscription),
		queue:       make(chan Event, bufferSize),
		stopCh:      make(chan struct{}),
		onPanic: func(t EventType, r interface{}) {
			fmt.Fprintf(os.Stderr, "[events] subscriber panic on %s: %v\n", t, r)
		},
	}

	bus.wg.Add(1)
	go bus.run()
	return bus
}

// OnPanic replaces the report for panicking subscribers
func (eb *DefaultEventBus) OnPanic(fn PanicHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if fn == nil {
		fn = func(EventType, interface{}) {}
	}
	eb.onPanic = fn
}

// Subscribe registers a handler for one event type
func (eb *DefaultEventBus) Subscribe(eventType EventType, handler EventHandler) SubscriptionID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := SubscriptionID(eb.nextID.Add(1))
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers the handler for every engine event type
func (eb *DefaultEventBus) SubscribeAll(handler EventHandler) []SubscriptionID {
	ids := make([]SubscriptionID, 0, len(AllTypes))
	for _, t := range AllTypes {
		ids = append(ids, eb.Subscribe(t, handler))
	}
	return ids
}

// Unsubscribe removes a subscription; unknown ids are ignored
func (eb *DefaultEventBus) Unsubscribe(id SubscriptionID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for t, subs := range eb.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				eb.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish queues an event. A full queue or a stopped bus drops it and counts the loss.
func (eb *DefaultEventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-eb.stopCh:
		eb.dropped.Add(1)
		return
	default:
	}

	select {
	case eb.queue <- event:
	default:
		eb.dropped.Add(1)
	}
}

// Stop delivers what is already queued, then ends the dispatch goroutine
func (eb *DefaultEventBus) Stop() {
	eb.stopOnce.Do(func() { close(eb.stopCh) })
	eb.wg.Wait()
}

func (eb *DefaultEventBus) run() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.queue:
			eb.deliver(event)
		case <-eb.stopCh:
			for {
				select {
				case event := <-eb.queue:
					eb.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (eb *DefaultEventBus) deliver(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.Type]
	handlers := make([]EventHandler, len(subs))
	for i, sub := range subs {
		handlers[i] = sub.handler
	}
	onPanic := eb.onPanic
	eb.mu.RUnlock()

	for _, h := range handlers {
		eb.call(h, event, onPanic)
	}
}

func (eb *DefaultEventBus) call(h EventHandler, event Event, onPanic PanicHandler) {
	defer func() {
		if r := recover(); r != nil {
			eb.panics.Add(1)
			onPanic(event.Type, r)
		}
	}()
	h(event)
}

// SubscriberCount returns the number of handlers for an event type
func (eb *DefaultEventBus) SubscriberCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[eventType])
}

// Dropped returns how many events were discarded because the queue was full or stopped
func (eb *DefaultEventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// Panics returns how many subscriber calls panicked
func (eb *DefaultEventBus) Panics() int64 {
	return eb.panics.Load()
}
