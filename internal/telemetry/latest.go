// Package telemetry provides a cached-latest value cell: a new listener is
// handed the last published value straight away, then every later one.
package telemetry

import (
	"sync"

	"github.com/frogdesign/akart/internal/subscription"
)

// Latest holds the most recent value of a stream. It keeps no history.
// Listeners run synchronously on the publishing goroutine and must not
// publish to the same cell.
type Latest[T any] struct {
	deliverMu sync.Mutex // serializes replay and publish so listeners see values in order

	mu        sync.Mutex
	value     T
	has       bool
	listeners map[uint64]func(T)
	next      uint64
}

// NewLatest creates an empty cell
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{listeners: make(map[uint64]func(T))}
}

// NewLatestWith creates a cell that already holds initial
func NewLatestWith[T any](initial T) *Latest[T] {
	l := NewLatest[T]()
	l.value = initial
	l.has = true
	return l
}

// Publish stores v and hands it to every listener
func (l *Latest[T]) Publish(v T) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	l.value = v
	l.has = true
	fns := make([]func(T), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Get returns the latest value and whether one was ever published
func (l *Latest[T]) Get() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.has
}

// Subscribe registers fn, replays the latest value to it and returns the
// handle that removes it
func (l *Latest[T]) Subscribe(fn func(T)) *subscription.Handle {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	id := l.next
	l.next++
	l.listeners[id] = fn
	v, has := l.value, l.has
	l.mu.Unlock()

	if has {
		fn(v)
	}

	return subscription.New(func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	})
}

// Listeners returns the number of registered listeners
func (l *Latest[T]) Listeners() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.listeners)
}
