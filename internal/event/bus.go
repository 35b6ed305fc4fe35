// Package event provides the in-process bus that carries change records from
// the telemetry engine to the cloud gate and the live subscriber router.
package event

import (
	"context"
	"slices"
	"sync"

	"github.com/HerbHall/tagwatch/pkg/plugin"
	"go.uber.org/zap"
)

var _ plugin.EventBus = (*Bus)(nil)

// Bus is a synchronous publish/subscribe bus. Handlers run in the
// publisher's goroutine, in subscription order, so a handler that blocks
// stalls the pipeline. Sinks must hand work off instead of doing I/O inline.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   uint64
	logger   *zap.Logger
}

type handlerEntry struct {
	id      uint64
	handler plugin.EventHandler
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]handlerEntry),
		logger:   logger,
	}
}

// Publish delivers event to the topic's handlers in subscription order. A
// panicking handler is logged and does not stop delivery.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	b.mu.RLock()
	targets := b.handlers[event.Topic]
	b.mu.RUnlock()

	for _, h := range targets {
		b.safeCall(ctx, h.handler, event)
	}
	return nil
}

// Subscribe registers a handler for one topic and returns its unsubscribe func.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[topic] = slices.DeleteFunc(slices.Clone(b.handlers[topic]), func(e handlerEntry) bool {
			return e.id == id
		})
	}
}

func (b *Bus) safeCall(ctx context.Context, handler plugin.EventHandler, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.String("source", event.Source),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}
