// Package subscription tracks the asynchronous work a session starts so that
// ending the session cancels all of it in one step.
package subscription

import (
	"context"
	"sync"
	"sync/atomic"
)

// Subscription is a cancellation handle. Cancel must be safe to call more
// than once.
type Subscription interface {
	Cancel()
	Canceled() bool
}

// Handle runs its cancel function at most once
type Handle struct {
	once     sync.Once
	canceled atomic.Bool
	cancel   func()
}

// New wraps cancel in a Handle. A nil cancel is allowed.
func New(cancel func()) *Handle {
	return &Handle{cancel: cancel}
}

// WithContext derives a cancelable context from parent and returns the
// handle that cancels it
func WithContext(parent context.Context) (context.Context, *Handle) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, New(cancel)
}

// Cancel runs the cancel function the first time it is called
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.canceled.Store(true)
		if h.cancel != nil {
			h.cancel()
		}
	})
}

// Canceled reports whether Cancel has run
func (h *Handle) Canceled() bool {
	return h.canceled.Load()
}

// Registry holds every live subscription of a session
type Registry struct {
	mu   sync.Mutex
	subs []Subscription
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Track adds s. A nil subscription is ignored.
func (r *Registry) Track(s Subscription) *Registry {
	if s == nil {
		return r
	}
	r.mu.Lock()
	r.subs = append(r.subs, s)
	r.mu.Unlock()
	return r
}

// TrackFunc tracks a cancel function and returns its handle
func (r *Registry) TrackFunc(cancel func()) *Handle {
	h := New(cancel)
	r.Track(h)
	return h
}

// CancelAll cancels every tracked subscription that is still live and empties
// the registry. It returns how many were canceled by this call. Handles added
// while it runs are left for the next call.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	n := 0
	for _, s := range subs {
		if s.Canceled() {
			continue
		}
		s.Cancel()
		n++
	}
	return n
}

// Len returns the number of tracked subscriptions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
