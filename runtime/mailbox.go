package runtime

import "sync"

// Mailbox is an unbounded FIFO with a wake-up signal.
// Push never blocks, so a producer can never stall the consumer's loop.
type Mailbox[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

func (m *Mailbox[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}
	m.mu.Lock()
	m.items = append(m.items, items...)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Ready fires at least once after items were pushed.
func (m *Mailbox[T]) Ready() <-chan struct{} { return m.ready }

// Drain hands over every pending item, oldest first.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
