// Package debounce delays a call until its input has been quiet for a while.
package debounce

import (
	"sync"
	"time"
)

// Debouncer delivers the most recent value passed to Call once no further
// call has arrived for the configured delay. Intermediate values are dropped.
//
// The callback runs on its own goroutine (or on the caller's, for Flush) and
// never concurrently with itself.
type Debouncer[T any] struct {
	delay time.Duration
	fn    func(T)

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	value   T
	gen     uint64
	stopped bool

	// runMu serializes callback invocations.
	runMu sync.Mutex
}

// New creates a debouncer that calls fn with the last value after delay.
func New[T any](delay time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{delay: delay, fn: fn}
}

// Call records v and restarts the quiet period.
func (d *Debouncer[T]) Call(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.value = v
	d.pending = true
	d.gen++
	gen := d.gen

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	// A newer Call, a Flush or a Cancel superseded this timer.
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	v := d.take()
	d.mu.Unlock()

	d.fn(v)
}

// take clears the pending value. Caller holds mu.
func (d *Debouncer[T]) take() T {
	v := d.value
	var zero T
	d.value = zero
	d.pending = false
	d.timer = nil
	return v
}

// Pending reports whether a value is waiting to be delivered.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Peek returns the value waiting to be delivered, if any.
func (d *Debouncer[T]) Peek() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.pending
}

// Flush delivers the pending value immediately on the calling goroutine.
// It reports whether there was anything to deliver.
func (d *Debouncer[T]) Flush() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	v := d.take()
	d.mu.Unlock()

	d.fn(v)
	return true
}

// Cancel drops the pending value without delivering it.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.take()
}

// Stop cancels any pending value, ignores all later calls and waits for a
// callback that is already running. It must not be called from the callback.
func (d *Debouncer[T]) Stop() {
	d.Cancel()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.runMu.Lock()
	d.runMu.Unlock()
}
