// Package debounce provides a cancel-and-reschedule debouncer.
//
// Every Trigger replaces the pending call, so a burst of triggers produces a
// single invocation once the burst has been quiet for the last wait window.
package debounce

import (
	"sync"
	"time"

	"github.com/asheshgoplani/panedeck/internal/clock"
)

// Debouncer coalesces calls to fn.
type Debouncer struct {
	clock clock.Clock
	fn    func()

	mu      sync.Mutex
	timer   *clock.Timer
	gen     uint64
	pending bool
}

// New returns a Debouncer that invokes fn. fn never runs with the
// debouncer's lock held.
func New(c clock.Clock, fn func()) *Debouncer {
	if c == nil {
		c = clock.Real()
	}
	return &Debouncer{clock: c, fn: fn}
}

// Trigger cancels any pending call and schedules fn after wait.
func (d *Debouncer) Trigger(wait time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = true
	d.timer = d.clock.AfterFunc(wait, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// A superseded timer may still fire if Stop lost the race.
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

// Flush runs a pending call immediately on the caller's goroutine.
// It reports whether a call was pending.
func (d *Debouncer) Flush() bool {
	if !d.take() {
		return false
	}
	d.fn()
	return true
}

// Cancel drops a pending call without running it.
func (d *Debouncer) Cancel() bool {
	return d.take()
}

func (d *Debouncer) take() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.pending {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = false
	return true
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
