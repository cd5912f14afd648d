package pipeline

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/frogdesign/akart/internal/logger"
)

// maxStages bounds the run queue. A stage is queued at most once at a time.
const maxStages = 64

type runnable interface {
	runOnce()
}

// Pool is a fixed set of worker goroutines that run stages
type Pool struct {
	queue   chan runnable
	done    chan struct{}
	wg      sync.WaitGroup
	size    int
	closing sync.Once
}

// NewPool starts size workers. A size of zero or less uses GOMAXPROCS.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		queue: make(chan runnable, maxStages),
		done:  make(chan struct{}),
		size:  size,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	logger.WithComponent("pipeline").Debug().Int("workers", size).Msg("Worker pool started")
	return p
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case r := <-p.queue:
			r.runOnce()
		}
	}
}

func (p *Pool) schedule(r runnable) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.queue <- r:
		return true
	case <-p.done:
		return false
	}
}

// Close stops the workers after their current item and waits for them
func (p *Pool) Close() {
	p.closing.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

// Stage processes the latest offered item on the pool. At most one worker
// runs a stage at a time, so a handler may own scratch buffers without
// locking. An item offered while the stage is busy waits in the slot and is
// overwritten by any newer one.
type Stage[T any] struct {
	pool      *Pool
	slot      *Slot[T]
	handle    func(T)
	scheduled atomic.Bool
	processed atomic.Uint64
}

// NewStage creates a stage on pool. drop releases items that are
// overwritten or abandoned.
func NewStage[T any](pool *Pool, handle func(T), drop func(T)) *Stage[T] {
	return &Stage[T]{
		pool:   pool,
		slot:   NewSlot(drop),
		handle: handle,
	}
}

// Offer hands v to the stage
func (s *Stage[T]) Offer(v T) {
	if !s.slot.Put(v) {
		return
	}
	s.kick()
}

func (s *Stage[T]) kick() {
	if s.scheduled.CompareAndSwap(false, true) {
		if !s.pool.schedule(s) {
			s.scheduled.Store(false)
		}
	}
}

func (s *Stage[T]) runOnce() {
	v, ok := s.slot.TryTake()
	if ok {
		s.processed.Add(1)
		s.handle(v)
	}
	s.scheduled.Store(false)

	// An offer that raced with the flag reset is picked up here
	s.slot.mu.Lock()
	pending := s.slot.full
	s.slot.mu.Unlock()
	if pending {
		s.kick()
	}
}

// Close drops the pending item and rejects later offers
func (s *Stage[T]) Close() {
	s.slot.Close()
}

// StageStats counts a stage's traffic
type StageStats struct {
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns the stage counters
func (s *Stage[T]) Stats() StageStats {
	return StageStats{
		Processed: s.processed.Load(),
		Dropped:   s.slot.Drops(),
	}
}
