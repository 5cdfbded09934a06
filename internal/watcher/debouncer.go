// Package watcher turns filesystem notifications into debounced
// re-index triggers.
package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of filesystem events into a single
// trigger. Every Bump restarts the window; fn fires once the events go
// quiet. Paths are not threaded through on purpose: the run that
// follows re-derives the truth from a fresh scan and diff.
type Debouncer struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer that calls fn after a quiet window.
func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{window: window, fn: fn}
}

// Bump records an event and restarts the quiet window.
func (d *Debouncer) Bump() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.fn()
}

// Stop cancels any pending trigger. Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
