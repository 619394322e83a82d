// Package clock abstracts the timers used for grace periods and idle room
// cleanup so tests can drive them deterministically.
package clock

import "time"

// Clock is the subset of the time package the session core depends on.
// Production code uses Real(); tests use Fake() and Advance.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer cancels the
	// pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It reports whether the call stopped
// the timer, false if it already fired or was stopped before.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}
