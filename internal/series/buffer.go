// Package series keeps the bounded window of polled aggregate snapshots.
package series

import (
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/ring"
)

// DefaultCapacity is the number of points kept for charting.
const DefaultCapacity = 120

// Buffer stores snapshots newest-first. Every poll appends a new point,
// even when the counters did not move.
type Buffer struct {
	points  *ring.Ring[event.AggregateSnapshot]
	version uint64
}

// New creates a Buffer holding at most capacity points.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{points: ring.New[event.AggregateSnapshot](capacity)}
}

// Append prepends s, dropping the oldest point on overflow.
func (b *Buffer) Append(s event.AggregateSnapshot) {
	b.points.PushFront(s)
	b.version++
}

// Snapshot returns the points in stored (newest-first) order.
func (b *Buffer) Snapshot() []event.AggregateSnapshot { return b.points.Slice() }

// Chronological returns the points oldest-first, the order charts consume.
func (b *Buffer) Chronological() []event.AggregateSnapshot { return b.points.Reversed() }

func (b *Buffer) Len() int        { return b.points.Len() }
func (b *Buffer) Cap() int        { return b.points.Cap() }
func (b *Buffer) Version() uint64 { return b.version }
