// Package eventbus provides the in-process implementation of domain.EventBus.
package eventbus

import (
	"sync"

	"github.com/wndlink/wndlink/pkg/domain"
)

// DefaultHistorySize is how many recent events Recent can return.
const DefaultHistorySize = 200

// InProcessEventBus dispatches events synchronously to registered handlers
// and keeps a bounded history of recent events for status endpoints.
type InProcessEventBus struct {
	handlers    map[domain.EventType][]domain.EventHandler
	allHandlers []domain.EventHandler
	mu          sync.RWMutex
	closed      bool

	histMu  sync.Mutex
	history []domain.Event
	next    int
	full    bool
}

// New creates a new in-process event bus with the default history size.
func New() *InProcessEventBus {
	return NewWithHistory(DefaultHistorySize)
}

// NewWithHistory creates a bus remembering the last size events.
func NewWithHistory(size int) *InProcessEventBus {
	if size < 1 {
		size = 1
	}
	return &InProcessEventBus{
		handlers:    make(map[domain.EventType][]domain.EventHandler),
		allHandlers: make([]domain.EventHandler, 0),
		history:     make([]domain.Event, size),
	}
}

// Publish records the event and dispatches it to all matching handlers.
// Typed handlers run first, then global handlers. Handlers are invoked
// outside the bus lock so they may publish further events.
func (b *InProcessEventBus) Publish(event domain.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	typed := append([]domain.EventHandler(nil), b.handlers[event.EventType()]...)
	global := append([]domain.EventHandler(nil), b.allHandlers...)
	b.mu.RUnlock()

	b.remember(event)

	for _, handler := range typed {
		handler(event)
	}
	for _, handler := range global {
		handler(event)
	}
}

func (b *InProcessEventBus) remember(event domain.Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	b.history[b.next] = event
	b.next = (b.next + 1) % len(b.history)
	if b.next == 0 {
		b.full = true
	}
}

// Recent returns up to n of the most recent events, oldest first.
func (b *InProcessEventBus) Recent(n int) []domain.Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	count := b.next
	if b.full {
		count = len(b.history)
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]domain.Event, 0, n)
	start := (b.next - n + len(b.history)) % len(b.history)
	for i := 0; i < n; i++ {
		out = append(out, b.history[(start+i)%len(b.history)])
	}
	return out
}

// Subscribe registers a handler for a specific event type.
func (b *InProcessEventBus) Subscribe(eventType domain.EventType, handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *InProcessEventBus) SubscribeAll(handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allHandlers = append(b.allHandlers, handler)
}

// Close marks the bus as closed. No more events will be dispatched.
func (b *InProcessEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
}

// HandlerCount returns the total number of registered handlers.
func (b *InProcessEventBus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allHandlers)
	for _, handlers := range b.handlers {
		count += len(handlers)
	}
	return count
}

// Verify interface compliance at compile time.
var _ domain.EventBus = (*InProcessEventBus)(nil)
