package clock

import (
	"testing"
	"time"
)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewFake(start)

	var order []string
	c.AfterFunc(300*time.Millisecond, func() { order = append(order, "c") })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, "b") })

	c.Advance(200 * time.Millisecond)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected [a b], got %v", order)
	}
	if got := c.Now().Sub(start); got != 200*time.Millisecond {
		t.Errorf("expected clock at +200ms, got +%v", got)
	}

	c.Advance(100 * time.Millisecond)
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("expected c to fire, got %v", order)
	}
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Fatal("first Stop should report true")
	}
	if tm.Stop() {
		t.Error("second Stop should report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", c.Pending())
	}
}

func TestFake_CallbackSchedulesWithinWindow(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3500 * time.Millisecond)
	if ticks != 3 {
		t.Errorf("expected 3 ticks, got %d", ticks)
	}
	if c.Pending() != 1 {
		t.Errorf("expected the 4th tick pending, got %d", c.Pending())
	}
}

func TestFake_NowInsideCallback(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewFake(start)
	var seen time.Time
	c.AfterFunc(750*time.Millisecond, func() { seen = c.Now() })
	c.Advance(5 * time.Second)
	if got := seen.Sub(start); got != 750*time.Millisecond {
		t.Errorf("callback saw +%v, want +750ms", got)
	}
}

func TestFake_ZeroDelayFiresOnNextAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := 0
	c.AfterFunc(0, func() { fired++ })
	c.AfterFunc(-time.Second, func() { fired++ })
	if c.Pending() != 2 {
		t.Fatalf("expected 2 pending, got %d", c.Pending())
	}
	c.Advance(0)
	if fired != 2 || c.Pending() != 0 {
		t.Errorf("fired=%d pending=%d, want 2 and 0", fired, c.Pending())
	}
}

func TestFake_StopFromEarlierCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var second Timer
	fired := false
	c.AfterFunc(time.Second, func() {
		if !second.Stop() {
			t.Error("Stop of a due but unrun timer should report true")
		}
	})
	second = c.AfterFunc(time.Second, func() { fired = true })
	c.Advance(time.Second)
	if fired {
		t.Error("timer stopped by an earlier callback still fired")
	}
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	tm := Real{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("real timer did not fire")
	}
	if tm.Stop() {
		t.Error("Stop after fire should report false")
	}
}
