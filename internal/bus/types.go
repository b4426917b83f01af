// Package bus holds the small cross-cutting runtime contracts: turn event
// broadcast and background task scheduling.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Event is a server-side event broadcast to connected clients.
type Event struct {
	Name    string `json:"name"` // e.g. "turn.delta", "turn.finished"
	Payload any    `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription, decoupling the
// turn pipeline from the gateway's client bookkeeping.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// Scheduler runs fire-and-forget background tasks. The orchestrator and
// resolver take it as a dependency so tests can substitute a synchronous
// run-immediately implementation.
type Scheduler interface {
	Schedule(task func(ctx context.Context))
}

// GoScheduler runs each task on its own goroutine with a background context,
// recovering panics so a bad cleanup task cannot take the process down.
type GoScheduler struct{}

func (GoScheduler) Schedule(task func(ctx context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("bus.scheduler.task_panic", "panic", r)
			}
		}()
		task(context.Background())
	}()
}

// SyncScheduler runs tasks inline. Test use only.
type SyncScheduler struct{}

func (SyncScheduler) Schedule(task func(ctx context.Context)) {
	task(context.Background())
}

// MemoryBus is a minimal in-process EventPublisher.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string]EventHandler)}
}

func (b *MemoryBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

func (b *MemoryBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

func (b *MemoryBus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}
