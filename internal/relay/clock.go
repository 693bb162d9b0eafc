package relay

import "time"

// Timer is the cancellable handle returned by Clock.AfterFunc.
// *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Clock abstracts timer scheduling so the idle monitor can run against
// simulated time in tests.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
