package pipeline

import "sync"

// deliveryQueue bounds the callbacks waiting on the delivery goroutine.
// Posting to a full queue blocks the poster.
const deliveryQueue = 32

// Delivery runs consumer callbacks one at a time, in the order they were
// posted, on a single goroutine.
type Delivery struct {
	queue   chan func()
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewDelivery starts the delivery goroutine
func NewDelivery() *Delivery {
	d := &Delivery{
		queue:   make(chan func(), deliveryQueue),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Delivery) loop() {
	defer close(d.stopped)
	for {
		select {
		case <-d.done:
			return
		case fn := <-d.queue:
			fn()
		}
	}
}

// Post queues fn. It reports false, without running fn, once the delivery
// context is closed.
func (d *Delivery) Post(fn func()) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.queue <- fn:
		return true
	case <-d.done:
		return false
	}
}

// Close stops the goroutine after the running callback. Callbacks still
// queued are discarded; cleanup must not depend on them running.
func (d *Delivery) Close() {
	d.once.Do(func() {
		close(d.done)
	})
	<-d.stopped
}
