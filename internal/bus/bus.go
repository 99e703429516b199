// Package bus is a small in-process publish/subscribe registry. Handlers are
// registered per topic at process start, publishing dispatches to every
// subscribed handler on its own goroutine. A panicking handler is logged and
// never takes down a sibling probing run.
package bus

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

type handler func(ctx context.Context, ev any)

type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handler
	wg       sync.WaitGroup
}

func New() *Bus {
	return &Bus{
		handlers: make(map[string][]handler),
	}
}

// Subscribe registers fn for every event published under topic. Registration
// happens during wiring, before the first Publish.
func Subscribe[E any](b *Bus, topic string, fn func(ctx context.Context, ev E)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], func(ctx context.Context, ev any) {
		e, ok := ev.(E)
		if !ok {
			slog.ErrorContext(ctx, "event type mismatch", "topic", topic)
			return
		}
		fn(ctx, e)
	})
}

// Publish dispatches ev to all handlers of topic, each on its own goroutine.
// Publishing from inside a handler is allowed, Wait accounts for the nested
// dispatches as long as the publishing handler is still running.
func (b *Bus) Publish(ctx context.Context, topic string, ev any) {
	b.mu.RLock()
	hs := b.handlers[topic]
	b.mu.RUnlock()

	if len(hs) == 0 {
		slog.DebugContext(ctx, "no subscribers", "topic", topic)
		return
	}
	for _, h := range hs {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.ErrorContext(ctx, "handler panicked",
						"topic", topic,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
			}()
			h(ctx, ev)
		}()
	}
}

// Wait blocks until every dispatched handler returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}
