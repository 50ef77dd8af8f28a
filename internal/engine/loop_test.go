package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoop_RunsInOrder(t *testing.T) {
	l := NewLoop(16)
	defer l.Stop()

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		if !l.Post(func() { got = append(got, i) }) {
			t.Fatal("post refused")
		}
	}
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order: %v", got)
		}
	}
}

func TestLoop_TryPostFull(t *testing.T) {
	l := NewLoop(1)
	defer l.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	l.Post(func() { close(started); <-block })
	<-started
	if !l.TryPost(func() {}) {
		t.Fatal("queue should accept one closure")
	}
	if l.TryPost(func() {}) {
		t.Error("TryPost should refuse when full")
	}
	if l.QueueLen() != 1 || l.QueueCap() != 1 {
		t.Errorf("len=%d cap=%d", l.QueueLen(), l.QueueCap())
	}
	close(block)
}

func TestLoop_DoHonoursContext(t *testing.T) {
	l := NewLoop(4)
	defer l.Stop()

	block := make(chan struct{})
	l.Post(func() { <-block })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Do(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline, got %v", err)
	}
	close(block)
}

func TestLoop_Stopped(t *testing.T) {
	l := NewLoop(4)
	l.Stop()
	l.Stop()
	if l.Post(func() {}) || l.TryPost(func() {}) {
		t.Error("stopped loop must refuse posts")
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
