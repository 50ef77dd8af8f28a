package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is a scheduled one-shot callback.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// Clock abstracts wall time so timer-driven state can be tested with
// simulated time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

var realClock = clockwork.NewRealClock()

// Real is the process clock.
type Real struct{}

func (Real) Now() time.Time { return realClock.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer { return realClock.AfterFunc(d, f) }
