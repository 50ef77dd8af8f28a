package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Fake is a manually advanced clock on top of clockwork.FakeClock.
// Callbacks run synchronously inside Advance, one at a time, in deadline
// order (ties in scheduling order), with the clock already moved to their
// deadline.
type Fake struct {
	fc *clockwork.FakeClock

	mu    sync.Mutex
	cond  *sync.Cond
	seq   uint64
	live  map[*fakeTimer]struct{}
	fired map[*fakeTimer]bool
}

type fakeTimer struct {
	f    *Fake
	t    clockwork.Timer
	when time.Time
	seq  uint64
	fn   func()
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	f := &Fake{
		fc:    clockwork.NewFakeClockAt(start),
		live:  make(map[*fakeTimer]struct{}),
		fired: make(map[*fakeTimer]bool),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) Now() time.Time { return f.fc.Now() }

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ft := &fakeTimer{f: f, when: f.fc.Now().Add(d), seq: f.seq, fn: fn}
	f.live[ft] = struct{}{}
	// clockwork expires on its own goroutine; record it and let Advance
	// run fn in order.
	ft.t = f.fc.AfterFunc(d, func() {
		f.mu.Lock()
		if _, ok := f.live[ft]; ok {
			f.fired[ft] = true
		}
		f.mu.Unlock()
		f.cond.Broadcast()
	})
	return ft
}

// Advance moves the clock forward by d, firing every timer that falls due,
// including timers scheduled by callbacks during the advance.
func (f *Fake) Advance(d time.Duration) {
	target := f.fc.Now().Add(d)
	for {
		batch := f.due(target)
		if len(batch) == 0 {
			break
		}
		f.moveTo(batch[0].when)
		for _, t := range batch {
			if f.take(t) {
				t.fn()
			}
		}
	}
	f.moveTo(target)
}

// moveTo advances clockwork to t under f.mu, so a concurrent AfterFunc
// computes its deadline from the same Now that clockwork schedules from.
func (f *Fake) moveTo(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gap := t.Sub(f.fc.Now()); gap > 0 {
		f.fc.Advance(gap)
	}
}

// Pending reports how many timers have not fired or been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// due returns the live timers sharing the earliest deadline at or before
// target, in scheduling order.
func (f *Fake) due(target time.Time) []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var batch []*fakeTimer
	for t := range f.live {
		if t.when.After(target) {
			continue
		}
		switch {
		case len(batch) == 0 || t.when.Before(batch[0].when):
			batch = append(batch[:0], t)
		case t.when.Equal(batch[0].when):
			batch = append(batch, t)
		}
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })
	return batch
}

// take waits for clockwork to expire t and claims it. It returns false if
// t was stopped in the meantime.
func (f *Fake) take(t *fakeTimer) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if _, ok := f.live[t]; !ok {
			return false
		}
		if f.fired[t] {
			delete(f.live, t)
			delete(f.fired, t)
			return true
		}
		f.cond.Wait()
	}
}

func (t *fakeTimer) Stop() bool {
	f := t.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[t]; !ok {
		return false
	}
	delete(f.live, t)
	delete(f.fired, t)
	t.t.Stop()
	return true
}
