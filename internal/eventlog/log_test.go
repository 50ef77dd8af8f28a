package eventlog

import (
	"fmt"
	"testing"
	"time"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/clock"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
)

func ev(id string, score float64) event.DecisionEvent {
	return event.DecisionEvent{ID: id, Score: score, Decision: event.Approve}
}

func TestAppend_SizeIsMinNCap(t *testing.T) {
	for _, n := range []int{0, 1, 499, 500, 501, 1200} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			l := New(clock.NewFake(time.Unix(0, 0)), DefaultCapacity)
			for i := 0; i < n; i++ {
				l.Append(ev(fmt.Sprintf("t%d", i), 0))
			}
			want := n
			if want > 500 {
				want = 500
			}
			if l.Len() != want {
				t.Fatalf("expected %d, got %d", want, l.Len())
			}
			snap := l.Snapshot()
			for i := range snap {
				// newest-first: index 0 is the last append
				if wantID := fmt.Sprintf("t%d", n-1-i); snap[i].ID != wantID {
					t.Fatalf("index %d: expected %s, got %s", i, wantID, snap[i].ID)
				}
			}
		})
	}
}

func TestAppend_StampsReceivedAtAndIsNew(t *testing.T) {
	c := clock.NewFake(time.Unix(100, 0))
	l := New(c, 10)

	stamped, _ := l.Append(event.DecisionEvent{ID: "a", ReceivedAt: time.Unix(1, 0)})
	if !stamped.IsNew || !stamped.ReceivedAt.Equal(time.Unix(100, 0)) {
		t.Errorf("unexpected stamp: %+v", stamped)
	}
	c.Advance(time.Second)
	l.Append(ev("b", 0))

	snap := l.Snapshot()
	if !snap[0].ReceivedAt.After(snap[1].ReceivedAt) {
		t.Error("newest entry should carry the later ReceivedAt")
	}
}

func TestClearNewFlag_NewestFlaggedFirst(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), 10)
	l.Append(ev("dup", 0.1))
	l.Append(ev("other", 0.2))
	l.Append(ev("dup", 0.3))

	if !l.ClearNewFlag("dup") {
		t.Fatal("expected a flag to be cleared")
	}
	snap := l.Snapshot()
	if snap[0].IsNew {
		t.Error("newest dup should be cleared")
	}
	if !snap[2].IsNew {
		t.Error("older dup must keep its flag")
	}
	if !snap[1].IsNew {
		t.Error("unrelated entry must keep its flag")
	}
	if l.ClearNewFlag("missing") {
		t.Error("unknown id should be a no-op")
	}

	// a second clear skips the already cleared duplicate
	if !l.ClearNewFlag("dup") {
		t.Fatal("expected the older dup to be cleared")
	}
	snap = l.Snapshot()
	if snap[2].IsNew || !snap[1].IsNew {
		t.Errorf("older dup=%v other=%v", snap[2].IsNew, snap[1].IsNew)
	}
	if l.ClearNewFlag("dup") {
		t.Error("no flagged dup left, clear should report false")
	}
}

func TestClearNewFlagRef_ExactEntry(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), 10)
	_, older := l.Append(ev("dup", 0.1))
	l.Append(ev("dup", 0.3))

	if !l.ClearNewFlagRef(older) {
		t.Fatal("expected the older entry to be cleared")
	}
	snap := l.Snapshot()
	if !snap[0].IsNew || snap[1].IsNew {
		t.Errorf("wrong entry cleared: newest=%v older=%v", snap[0].IsNew, snap[1].IsNew)
	}
	if l.ClearNewFlagRef(older) {
		t.Error("clearing twice should report false")
	}
}

func TestClearNewFlagRef_Evicted(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), 2)
	_, first := l.Append(ev("a", 0))
	l.Append(ev("b", 0))
	l.Append(ev("c", 0))

	before := l.Version()
	if l.ClearNewFlagRef(first) {
		t.Error("evicted entry cannot be cleared")
	}
	if l.Version() != before {
		t.Error("no-op clear must not bump the version")
	}
}

func TestClearAllNew(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), 10)
	for i := 0; i < 4; i++ {
		l.Append(ev(fmt.Sprint(i), 0))
	}
	l.ClearNewFlag("0")
	if n := l.ClearAllNew(); n != 3 {
		t.Errorf("expected 3 cleared, got %d", n)
	}
	for _, e := range l.Snapshot() {
		if e.IsNew {
			t.Fatalf("entry %s still new", e.ID)
		}
	}
}

func TestSnapshot_IsImmutableCopy(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), 10)
	l.Append(ev("a", 0.5))
	snap := l.Snapshot()
	snap[0].Score = 0.99
	snap[0].IsNew = false
	again := l.Snapshot()
	if again[0].Score != 0.5 || !again[0].IsNew {
		t.Error("mutating a snapshot leaked into the log")
	}
}

func TestFindAndVersion(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), 10)
	v0 := l.Version()
	l.Append(ev("a", 0.1))
	l.Append(ev("a", 0.7))
	if l.Version() <= v0 {
		t.Error("append must bump the version")
	}
	got, ok := l.Find("a")
	if !ok || got.Score != 0.7 {
		t.Errorf("Find should return the newest duplicate, got %+v", got)
	}
	if _, ok := l.Find("zzz"); ok {
		t.Error("Find of unknown id should fail")
	}
}
