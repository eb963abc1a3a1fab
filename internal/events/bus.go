// Package events carries in-process scheduling signals and the transition audit log.
package events

import (
	"sync"
	"time"
)

// EventType names a signal on the bus.
type EventType string

const (
	// EventClockJump is published when the wall clock moved relative to the monotonic clock.
	EventClockJump EventType = "clock_jump"
	// EventTimezoneChanged is published when the system timezone changed.
	EventTimezoneChanged EventType = "timezone_changed"
	// EventResumed is published after the machine wakes from suspend.
	EventResumed EventType = "resumed"
	// EventFilesChanged is published when prayers or config files were edited.
	EventFilesChanged EventType = "files_changed"
	// EventSilenceChanged is published after either layer toggled silence.
	EventSilenceChanged EventType = "silence_changed"
	// EventSessionRecorded is published after a session was appended to the pending log.
	EventSessionRecorded EventType = "session_recorded"
)

// RescheduleTriggers are the events after which absolute wake times are stale.
var RescheduleTriggers = []EventType{
	EventClockJump,
	EventTimezoneChanged,
	EventResumed,
	EventFilesChanged,
}

// Event is one published signal.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Reason returns Data["reason"] or the event type.
func (e Event) Reason() string {
	if r, ok := e.Data["reason"].(string); ok && r != "" {
		return r
	}
	return string(e.Type)
}

// Subscriber receives events on its own goroutine.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe bus. Each subscriber has a buffered
// channel; when it is full the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	closed      bool
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for eventType and returns the unsubscribe func.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return func() {}
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[eventType]
			for i, subCh := range subs {
				if subCh == ch {
					b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

// SubscribeMany registers fn for every listed type.
func (b *Bus) SubscribeMany(types []EventType, fn Subscriber) func() {
	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, b.Subscribe(t, fn))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish delivers an event to every subscriber of eventType without blocking.
// A nil bus is a no-op so producers need no guard.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes every subscriber channel. Later subscriptions are inert.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
