// Package events carries engine status notifications to the host application.
package events

import (
	"sync"
	"time"
)

// Name identifies a status event.
type Name string

// Status events published by the engine.
const (
	Installable     Name = "installable"
	Installed       Name = "installed"
	Ready           Name = "ready"
	UpdateAvailable Name = "update-available"
	Online          Name = "online"
	Offline         Name = "offline"
	SyncComplete    Name = "sync-complete"
	SyncItemFlagged Name = "sync-item-flagged"
	CacheWriteFail  Name = "cache-write-failed"
)

// Event is one status notification.
type Event struct {
	Name      Name           `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler processes events.
type Handler func(event *Event)

// Publisher is the publishing half of a Bus.
type Publisher interface {
	Publish(event *Event)
}

const (
	// busBufferSize is the capacity of the async event channel. Events are
	// dropped when it is full.
	busBufferSize = 1000
)

// Bus is an async pub/sub for status events. Publish never blocks: events go
// to a buffered channel drained by one worker goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[uint64]Handler
	nextID   uint64

	eventCh  chan *Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewBus creates a bus and starts its worker.
func NewBus() *Bus {
	b := &Bus{
		handlers: make(map[uint64]Handler),
		eventCh:  make(chan *Event, busBufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// Subscribe registers handler and returns a function that removes it.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Publish enqueues event. It is dropped if the buffer is full or the bus is
// stopped.
func (b *Bus) Publish(event *Event) {
	select {
	case <-b.stopCh:
		return
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	default:
	}
}

// Emit is Publish for a name and data.
func (b *Bus) Emit(name Name, data map[string]any) {
	b.Publish(&Event{Name: name, Data: data})
}

// Stop delivers the buffered events, then shuts the worker down and waits
// for it. Safe to call multiple times.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *Bus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		safeCall(handler, event)
	}
}

// safeCall keeps a panicking handler from killing the worker.
func safeCall(handler Handler, event *Event) {
	defer func() {
		recover() //nolint:errcheck // keep the bus alive
	}()
	handler(event)
}
