package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrConsumerParked is returned when a second Dequeue races with one already
// waiting; queues support exactly one consumer.
var ErrConsumerParked = errors.New("queue: a consumer is already waiting")

// Memory is the volatile array-backed FIFO backend.
type Memory struct {
	mu     sync.Mutex
	items  [][]byte
	waiter chan []byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory { return &Memory{} }

// Enqueue implements Backend. If a consumer is parked the item is handed to
// it directly.
func (m *Memory) Enqueue(item []byte) {
	m.mu.Lock()
	if m.waiter != nil {
		w := m.waiter
		m.waiter = nil
		m.mu.Unlock()
		w <- item
		return
	}
	m.items = append(m.items, item)
	m.mu.Unlock()
}

// Dequeue implements Backend, suspending while the queue is empty.
func (m *Memory) Dequeue(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	if len(m.items) > 0 {
		item := m.items[0]
		m.items = m.items[1:]
		m.mu.Unlock()
		return item, nil
	}
	if m.waiter != nil {
		m.mu.Unlock()
		return nil, ErrConsumerParked
	}
	w := make(chan []byte, 1)
	m.waiter = w
	m.mu.Unlock()

	select {
	case item := <-w:
		return item, nil
	case <-ctx.Done():
		m.mu.Lock()
		if m.waiter == w {
			m.waiter = nil
			m.mu.Unlock()
			return nil, ctx.Err()
		}
		m.mu.Unlock()
		// An enqueue detached the waiter concurrently; the item is already
		// in flight and must not be lost.
		item := <-w
		return item, nil
	}
}

// Len reports buffered items, for tests and introspection.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
