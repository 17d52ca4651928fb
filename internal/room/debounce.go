/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"sync"
	"time"
)

// debouncer collapses bursts of values per key and delivers only the last
// value once the window passes without another trigger for that key.
type debouncer struct {
	window   time.Duration
	callback func(key string, value float64)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	latest  map[string]float64
	stopped bool
}

func newDebouncer(window time.Duration, callback func(key string, value float64)) *debouncer {
	return &debouncer{
		window:   window,
		callback: callback,
		timers:   make(map[string]*time.Timer),
		latest:   make(map[string]float64),
	}
}

// Trigger records value for key and restarts that key's window.
func (d *debouncer) Trigger(key string, value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.latest[key] = value
	if t := d.timers[key]; t != nil {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.window, func() { d.flush(key) })
}

func (d *debouncer) flush(key string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	value, ok := d.latest[key]
	delete(d.latest, key)
	delete(d.timers, key)
	d.mu.Unlock()

	if ok {
		d.callback(key, value)
	}
}

// Stop prevents any further callbacks from firing.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
	d.latest = make(map[string]float64)
}
