// Package clock abstracts time so that debounce windows and deferred work
// can be driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by the workspace controllers.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real clock) or inline during
	// Advance (fake clock) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable pending call returned by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It returns false if the timer had
// already fired or been stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}
