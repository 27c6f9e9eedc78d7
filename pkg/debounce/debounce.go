// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package debounce coalesces bursts of calls into a single deferred call.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs the most recently submitted function once per window. The
// window opens on the first submission and is not extended by later ones,
// so a steady stream of events still fires every delay.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	latest  func()
	stopped bool
}

// New creates a Debouncer with the given window.
func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Do schedules fn, replacing any function still waiting in the current
// window. After Stop, fn runs immediately.
func (d *Debouncer) Do(fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		fn()
		return
	}

	d.latest = fn
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
	}
	d.mu.Unlock()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	fn := d.latest
	d.latest = nil
	d.timer = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Queued reports whether a call is waiting for its window to close.
func (d *Debouncer) Queued() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop runs any pending function now. Later calls to Do run synchronously.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true

	var fn func()
	if d.timer != nil && d.timer.Stop() {
		fn = d.latest
		d.latest = nil
	}
	d.timer = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}
