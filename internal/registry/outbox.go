package registry

import (
	"context"
	"errors"
	"sync"

	"dmchat/internal/domain"
)

// ErrSlowConsumer is returned by Deliver when the outbound queue is full.
var ErrSlowConsumer = errors.New("registry: slow consumer")

// Outbox is the bounded outbound queue of one live connection. A writer
// goroutine drains Events until the channel is closed.
type Outbox struct {
	id string
	ch chan Event

	mu     sync.Mutex
	closed bool
}

func NewOutbox(id string, size int) *Outbox {
	if size <= 0 {
		size = 1
	}
	return &Outbox{id: id, ch: make(chan Event, size)}
}

func (o *Outbox) ID() string { return o.id }

// Deliver enqueues ev without blocking.
func (o *Outbox) Deliver(_ context.Context, ev Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.ErrConnectionClosed
	}
	select {
	case o.ch <- ev:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops accepting events and closes the queue; queued events are still
// drained by the writer. Safe to call more than once.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
	return nil
}

func (o *Outbox) Events() <-chan Event { return o.ch }
