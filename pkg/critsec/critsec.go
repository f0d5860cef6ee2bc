// Package critsec implements the cooperative interruption model described
// by the design: termination signals are never handled asynchronously.
// Instead, a caller running a loop with a short mutating critical section
// per iteration polls Requested() only between iterations, outside the
// section. Because Go delivers signals to a channel rather than
// interrupting running code, a poll performed right before entering the
// critical section can never itself be preempted mid-section; this is
// exactly the "deferred until the section completes" semantics the
// design calls for, with no extra bookkeeping required.
package critsec

import (
	"os"
	"os/signal"
)

// Watcher observes termination signals without handling them.
type Watcher struct {
	ch chan os.Signal
}

// Watch starts observing the given signals (typically os.Interrupt and
// syscall.SIGTERM) and returns a Watcher. Call Stop when done.
func Watch(signals ...os.Signal) *Watcher {
	w := &Watcher{ch: make(chan os.Signal, 1)}
	signal.Notify(w.ch, signals...)
	return w
}

// Requested reports whether a watched signal has arrived since the last
// call. It never blocks.
func (w *Watcher) Requested() bool {
	select {
	case <-w.ch:
		return true
	default:
		return false
	}
}

// Stop releases the underlying signal notification.
func (w *Watcher) Stop() {
	signal.Stop(w.ch)
}
