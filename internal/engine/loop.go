package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine: closed")

// Loop is a single goroutine draining a bounded FIFO of closures. Every
// closure runs to completion before the next starts, so state touched only
// from inside the loop needs no locking.
type Loop struct {
	queue   chan func()
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewLoop creates and starts a loop with the given queue capacity.
func NewLoop(depth int) *Loop {
	if depth <= 0 {
		depth = 1
	}
	l := &Loop{
		queue:   make(chan func(), depth),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		select {
		case fn := <-l.queue:
			fn()
		case <-l.done:
			return
		}
	}
}

// Post enqueues fn, blocking while the queue is full. It returns false once
// the loop is stopped. Post must not be called from inside the loop when
// the queue may be full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// TryPost enqueues fn without blocking (returns false if full or stopped).
func (l *Loop) TryPost(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	default:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.queue <- wrapped:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Stop ends the loop after the closure currently running, if any, and
// waits for the goroutine to exit. Queued closures are dropped.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
	<-l.stopped
}

// QueueLen returns how many closures are currently queued.
func (l *Loop) QueueLen() int {
	return len(l.queue)
}

// QueueCap returns the total queue capacity.
func (l *Loop) QueueCap() int {
	return cap(l.queue)
}
