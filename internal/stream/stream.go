// Package stream fans committed workflow transitions out to in-process
// subscribers such as the notifier and server-sent event clients.
package stream

import (
	"context"
	"sync"

	"kampus.org/internal/workflow"
)

const (
	// DefaultBuffer is the per-subscriber channel capacity.
	DefaultBuffer = 64

	// ActionSubscribe gates the server-sent event stream.
	ActionSubscribe = "events.subscribe"
)

// Bus is a typed pub/sub of workflow events. It implements workflow.Publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan workflow.Event
	next    int
	buffer  int
	dropped func(workflow.Event)
}

// Option customises a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// OnDrop registers a callback invoked for every event a slow subscriber missed.
func OnDrop(fn func(workflow.Event)) Option {
	return func(b *Bus) { b.dropped = fn }
}

// New initialises an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{subs: make(map[int]chan workflow.Event), buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (b *Bus) Subscribe(ctx context.Context) <-chan workflow.Event {
	ch := make(chan workflow.Event, b.buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish fans the event out to all subscribers without blocking.
func (b *Bus) Publish(evt workflow.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			if b.dropped != nil {
				b.dropped(evt)
			}
		}
	}
}
