// Package eventlog holds the bounded, newest-first log of decision events.
package eventlog

import (
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/clock"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/ring"
)

// DefaultCapacity is the number of events kept before the oldest are dropped.
const DefaultCapacity = 500

// Ref identifies one appended entry, independent of its (possibly
// duplicated) event id.
type Ref uint64

type entry struct {
	ref Ref
	ev  event.DecisionEvent
}

// Log is not safe for concurrent use; the engine loop owns it.
type Log struct {
	clock   clock.Clock
	entries *ring.Ring[entry]
	nextRef Ref
	version uint64
}

// New creates a Log holding at most capacity events.
func New(c clock.Clock, capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{clock: c, entries: ring.New[entry](capacity)}
}

// Append prepends ev, stamping ReceivedAt and raising IsNew. Entries past
// capacity are dropped from the tail. It returns the stamped event and a
// reference to the inserted entry.
func (l *Log) Append(ev event.DecisionEvent) (event.DecisionEvent, Ref) {
	ev.ReceivedAt = l.clock.Now()
	ev.IsNew = true
	l.nextRef++
	l.entries.PushFront(entry{ref: l.nextRef, ev: ev})
	l.version++
	return ev, l.nextRef
}

// ClearNewFlag lowers IsNew on the newest entry carrying id that is still
// flagged. Already cleared duplicates are skipped, so repeated calls
// work through every entry sharing the id.
func (l *Log) ClearNewFlag(id string) bool {
	cleared := false
	l.entries.Each(func(_ int, e *entry) bool {
		if e.ev.ID != id || !e.ev.IsNew {
			return true
		}
		e.ev.IsNew = false
		cleared = true
		return false
	})
	if cleared {
		l.version++
	}
	return cleared
}

// ClearNewFlagRef lowers IsNew on exactly the entry ref points at. It is a
// no-op if that entry has been evicted.
func (l *Log) ClearNewFlagRef(ref Ref) bool {
	cleared := false
	l.entries.Each(func(_ int, e *entry) bool {
		if e.ref != ref {
			return e.ref > ref // newest-first: refs only decrease
		}
		if e.ev.IsNew {
			e.ev.IsNew = false
			cleared = true
		}
		return false
	})
	if cleared {
		l.version++
	}
	return cleared
}

// ClearAllNew lowers every outstanding highlight and returns how many were
// cleared.
func (l *Log) ClearAllNew() int {
	n := 0
	l.entries.Each(func(_ int, e *entry) bool {
		if e.ev.IsNew {
			e.ev.IsNew = false
			n++
		}
		return true
	})
	if n > 0 {
		l.version++
	}
	return n
}

// Snapshot returns the events newest-first. The slice is a copy; the
// Explanation, Features and Details of each event are shared and must be
// treated as read-only.
func (l *Log) Snapshot() []event.DecisionEvent {
	out := make([]event.DecisionEvent, 0, l.entries.Len())
	l.entries.Each(func(_ int, e *entry) bool {
		out = append(out, e.ev)
		return true
	})
	return out
}

// Find returns the newest event with id.
func (l *Log) Find(id string) (event.DecisionEvent, bool) {
	var (
		found event.DecisionEvent
		ok    bool
	)
	l.entries.Each(func(_ int, e *entry) bool {
		if e.ev.ID == id {
			found, ok = e.ev, true
			return false
		}
		return true
	})
	return found, ok
}

// Len returns the number of stored events.
func (l *Log) Len() int { return l.entries.Len() }

// Cap returns the capacity.
func (l *Log) Cap() int { return l.entries.Cap() }

// Version increases on every mutation.
func (l *Log) Version() uint64 { return l.version }
