// Package timers tracks one-shot callbacks so their owner can cancel every
// outstanding one on teardown.
package timers

import (
	"time"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/clock"
)

// Handle identifies a scheduled callback within one Registry.
type Handle uint64

// Dispatch runs fn on the owner's executor. Timers fire on the clock's
// goroutine; the callback itself must run where the owner's state lives.
type Dispatch func(fn func())

// Registry is owned by a single component and must only be touched from
// that component's executor.
type Registry struct {
	clock    clock.Clock
	dispatch Dispatch
	next     Handle
	pending  map[Handle]clock.Timer
	onChange func(pending int)
}

// New creates an empty Registry. A nil dispatch runs callbacks inline.
func New(c clock.Clock, dispatch Dispatch) *Registry {
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	return &Registry{
		clock:    c,
		dispatch: dispatch,
		pending:  make(map[Handle]clock.Timer),
	}
}

// OnChange registers a hook called with the pending count after every
// change (used for the pending-timers gauge).
func (r *Registry) OnChange(fn func(pending int)) {
	r.onChange = fn
}

// Schedule arranges for fn to run once after d. fn runs only if the handle
// is still registered when the dispatched callback executes; the handle is
// unregistered before fn is called.
func (r *Registry) Schedule(d time.Duration, fn func()) Handle {
	r.next++
	h := r.next
	r.pending[h] = r.clock.AfterFunc(d, func() {
		r.dispatch(func() { r.fire(h, fn) })
	})
	r.changed()
	return h
}

func (r *Registry) fire(h Handle, fn func()) {
	if _, ok := r.pending[h]; !ok {
		return // cancelled after the timer had already fired
	}
	delete(r.pending, h)
	r.changed()
	fn()
}

// Cancel stops and unregisters h. Unknown or already-fired handles are a
// no-op returning false.
func (r *Registry) Cancel(h Handle) bool {
	t, ok := r.pending[h]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.pending, h)
	r.changed()
	return true
}

// CancelAll stops every pending timer and returns how many there were.
func (r *Registry) CancelAll() int {
	n := len(r.pending)
	for h, t := range r.pending {
		t.Stop()
		delete(r.pending, h)
	}
	if n > 0 {
		r.changed()
	}
	return n
}

// Pending returns the number of registered timers.
func (r *Registry) Pending() int {
	return len(r.pending)
}

// Has reports whether h is still registered.
func (r *Registry) Has(h Handle) bool {
	_, ok := r.pending[h]
	return ok
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange(len(r.pending))
	}
}
