package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send after Close, and by Next once a closed bus
// is drained.
var ErrClosed = errors.New("bus: closed")

// Sender is the producer side of a Bus.
type Sender interface {
	Send(ev Event) error
}

// Bus is an unbounded FIFO with any number of producers and one consumer.
// Send never blocks, so the consumer may re-emit into its own bus.
type Bus struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	closed bool
}

// New returns an empty, open Bus.
func New() *Bus {
	return &Bus{notify: make(chan struct{}, 1)}
}

// Send enqueues ev.
func (b *Bus) Send(ev Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Next blocks until an event is available, the bus is closed and empty, or
// ctx is done. Events are returned in send order.
func (b *Bus) Next(ctx context.Context) (Event, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			ev := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return ev, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		}
	}
}

// Close stops accepting events. Already queued events are still delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
