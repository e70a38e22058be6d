package event

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Bus fans committed events out to registered handlers, in registration
// order, synchronously. A panicking handler is recovered and logged so one
// subscriber can never take down the publisher or its peers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers each event to every handler. Callers invoke it only
// after their transaction has committed.
func (b *Bus) Publish(ctx context.Context, events ...Event) {
	if b == nil || len(events) == 0 {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, ev := range events {
		for _, h := range handlers {
			b.deliver(ctx, h, ev)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"component": "event",
				"event":     ev.Name(),
				"panic":     r,
			}).Error("event handler panicked")
		}
	}()
	h.HandleEvent(ctx, ev)
}
