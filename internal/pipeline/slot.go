// Package pipeline runs the decode and detection stages on a fixed worker
// pool and hands results to a single delivery goroutine. Stages are joined by
// single-slot mailboxes: a new item overwrites an undelivered one.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Slot is a single-item mailbox with overwrite semantics. An overwritten or
// abandoned item is passed to the drop function so its resources can be
// released.
type Slot[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	item   T
	full   bool
	closed bool
	drop   func(T)

	drops atomic.Uint64
}

// NewSlot creates an empty slot. drop may be nil.
func NewSlot[T any](drop func(T)) *Slot[T] {
	s := &Slot[T]{drop: drop}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Put stores v, dropping any item not yet taken. It reports false when the
// slot is closed; v is dropped in that case.
func (s *Slot[T]) Put(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.dropItem(v)
		return false
	}
	old, had := s.item, s.full
	s.item = v
	s.full = true
	s.cond.Signal()
	s.mu.Unlock()

	if had {
		s.drops.Add(1)
		s.dropItem(old)
	}
	return true
}

// TryTake removes the item if there is one
func (s *Slot[T]) TryTake() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeLocked()
}

// Take blocks until an item is available. ok is false once the slot is
// closed.
func (s *Slot[T]) Take() (v T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.full && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return v, false
	}
	return s.takeLocked()
}

func (s *Slot[T]) takeLocked() (T, bool) {
	var zero T
	if !s.full {
		return zero, false
	}
	v := s.item
	s.item = zero
	s.full = false
	return v, true
}

// Close wakes any blocked Take and drops the pending item. Idempotent.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	v, had := s.takeLocked()
	s.cond.Broadcast()
	s.mu.Unlock()

	if had {
		s.dropItem(v)
	}
}

// Drops returns how many items were overwritten before being taken
func (s *Slot[T]) Drops() uint64 {
	return s.drops.Load()
}

func (s *Slot[T]) dropItem(v T) {
	if s.drop != nil {
		s.drop(v)
	}
}

// Sampler forwards at most one item per interval: the most recent one seen
// since the previous tick. Intermediate items are dropped.
type Sampler[T any] struct {
	slot     *Slot[T]
	interval time.Duration
	emit     func(T)

	offered   atomic.Uint64
	forwarded atomic.Uint64
}

// NewSampler creates a sampler that calls emit on each tick that has an
// item. emit runs on the sampler goroutine and must not block for long.
func NewSampler[T any](interval time.Duration, emit func(T), drop func(T)) *Sampler[T] {
	return &Sampler[T]{
		slot:     NewSlot(drop),
		interval: interval,
		emit:     emit,
	}
}

// Offer records v as the latest item of the current interval
func (s *Sampler[T]) Offer(v T) {
	s.offered.Add(1)
	s.slot.Put(v)
}

// Tick ends the current interval, forwarding the latest item if any. It
// reports whether an item was forwarded.
func (s *Sampler[T]) Tick() bool {
	v, ok := s.slot.TryTake()
	if !ok {
		return false
	}
	s.forwarded.Add(1)
	s.emit(v)
	return true
}

// Run ticks every interval until ctx is done, then closes the sampler
func (s *Sampler[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Close drops the pending item and rejects later offers
func (s *Sampler[T]) Close() {
	s.slot.Close()
}

// SamplerStats counts a sampler's traffic
type SamplerStats struct {
	Offered   uint64 `json:"offered"`
	Forwarded uint64 `json:"forwarded"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns the sampler counters
func (s *Sampler[T]) Stats() SamplerStats {
	return SamplerStats{
		Offered:   s.offered.Load(),
		Forwarded: s.forwarded.Load(),
		Dropped:   s.slot.Drops(),
	}
}
